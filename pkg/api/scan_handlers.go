package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/compliance-ops/regfabric/pkg/models"
)

func (s *Server) handleEnqueueScan(c *gin.Context) {
	var req struct {
		Filters   models.JSONMap `json:"filters"`
		Priority  int            `json:"priority"`
		CreatedBy string         `json:"created_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if req.Filters == nil {
		req.Filters = models.JSONMap{}
	}

	job, err := s.deps.Scan.Enqueue(c.Request.Context(), req.Filters, req.Priority, req.CreatedBy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleListScans(c *gin.Context) {
	status := models.ScanJobStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	jobs, err := s.deps.Scan.ListJobs(c.Request.Context(), status, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetScan(c *gin.Context) {
	job, err := s.deps.Scan.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListFraudAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	alerts, err := s.deps.Scan.ListAlerts(c.Request.Context(), c.Query("rule_id"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}
