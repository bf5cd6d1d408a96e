package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-ops/regfabric/pkg/activity"
	"github.com/compliance-ops/regfabric/pkg/models"
)

func (s *Server) handleRecordActivity(c *gin.Context) {
	var event models.AgentActivityEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		abortBadRequest(c, err)
		return
	}
	if event.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	stored := s.deps.Feed.Record(event)
	c.JSON(http.StatusCreated, stored)
}

// activityFilterFromQuery builds a filter from the request's query string.
// Comma-separated lists, RFC3339 timestamps.
func activityFilterFromQuery(c *gin.Context) (models.ActivityFilter, error) {
	var filter models.ActivityFilter

	if agents := c.Query("agent_ids"); agents != "" {
		filter.AgentIDs = strings.Split(agents, ",")
	}
	if types := c.Query("activity_types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.ActivityTypes = append(filter.ActivityTypes, models.ActivityType(t))
		}
	}
	if sevs := c.Query("severities"); sevs != "" {
		for _, v := range strings.Split(sevs, ",") {
			filter.Severities = append(filter.Severities, models.Severity(v))
		}
	}
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, err
		}
		filter.Since = &ts
	}
	if until := c.Query("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, err
		}
		filter.Until = &ts
	}
	filter.SearchText = c.Query("search")
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return filter, err
		}
		filter.MaxResults = n
	}
	return filter, nil
}

func (s *Server) handleQueryActivity(c *gin.Context) {
	filter, err := activityFilterFromQuery(c)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	events := s.deps.Feed.Query(filter)
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleActivityAgents(c *gin.Context) {
	agents := s.deps.Feed.Agents()
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

func (s *Server) handleAgentStats(c *gin.Context) {
	stats := s.deps.Feed.AgentStats(c.Param("id"))
	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no activity recorded for agent"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleActivityExport(c *gin.Context) {
	filter, err := activityFilterFromQuery(c)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	format := activity.ExportFormat(c.DefaultQuery("format", "json"))

	switch format {
	case activity.FormatJSON:
		c.Header("Content-Type", "application/json")
	case activity.FormatCSV:
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="activity.csv"`)
	case activity.FormatXML:
		c.Header("Content-Type", "application/xml")
	}

	if err := s.deps.Feed.Export(c.Writer, filter, format); err != nil {
		abortBadRequest(c, err)
	}
}

func (s *Server) handleRegulatoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Subscriber.GetStats())
}
