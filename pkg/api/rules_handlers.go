package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/compliance-ops/regfabric/pkg/models"
)

type ruleRequest struct {
	Name                 string            `json:"rule_name" binding:"required"`
	Description          string            `json:"description"`
	Type                 models.RuleType   `json:"rule_type" binding:"required"`
	Severity             models.Severity   `json:"severity" binding:"required"`
	Condition            models.JSONMap    `json:"condition" binding:"required"`
	NotificationChannels models.StringList `json:"notification_channels"`
	NotificationConfig   models.JSONMap    `json:"notification_config"`
	CooldownMinutes      int               `json:"cooldown_minutes"`
	Enabled              *bool             `json:"is_enabled"`
	CreatedBy            string            `json:"created_by"`
}

func (r ruleRequest) validate() error {
	if !models.ValidRuleType(r.Type) {
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	if !models.ValidSeverity(r.Severity) {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must not be negative")
	}
	return nil
}

func (r ruleRequest) toModel() *models.AlertRule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &models.AlertRule{
		Name:                 r.Name,
		Description:          r.Description,
		Type:                 r.Type,
		Severity:             r.Severity,
		Condition:            r.Condition,
		NotificationChannels: r.NotificationChannels,
		NotificationConfig:   r.NotificationConfig,
		CooldownMinutes:      r.CooldownMinutes,
		Enabled:              enabled,
		CreatedBy:            r.CreatedBy,
	}
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if err := req.validate(); err != nil {
		abortBadRequest(c, err)
		return
	}

	rule := req.toModel()
	if err := s.deps.Rules.CreateRule(c.Request.Context(), rule); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) handleListRules(c *gin.Context) {
	out, err := s.deps.Rules.ListRules(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": out, "count": len(out)})
}

func (s *Server) handleGetRule(c *gin.Context) {
	rule, err := s.deps.Rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if err := req.validate(); err != nil {
		abortBadRequest(c, err)
		return
	}

	rule := req.toModel()
	rule.ID = c.Param("id")
	if err := s.deps.Rules.UpdateRule(c.Request.Context(), rule); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	if err := s.deps.Rules.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTriggerEvaluation(c *gin.Context) {
	stats, err := s.deps.Engine.TriggerEvaluation(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleEngineStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.LastStats())
}

func (s *Server) handleListIncidents(c *gin.Context) {
	status := models.IncidentStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	out, err := s.deps.Rules.ListIncidents(c.Request.Context(), status, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": out, "count": len(out)})
}

func (s *Server) handleGetIncident(c *gin.Context) {
	inc, err := s.deps.Rules.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) handleAcknowledgeIncident(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	inc, err := s.deps.Rules.AcknowledgeIncident(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) handleResolveIncident(c *gin.Context) {
	var req struct {
		UserID        string `json:"user_id" binding:"required"`
		Notes         string `json:"resolution_notes"`
		FalsePositive bool   `json:"false_positive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	inc, err := s.deps.Rules.ResolveIncident(c.Request.Context(), c.Param("id"), req.UserID, req.Notes, req.FalsePositive)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) handleIncidentNotifications(c *gin.Context) {
	out, err := s.deps.Attempts.ListForIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out, "count": len(out)})
}
