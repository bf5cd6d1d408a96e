package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compliance-ops/regfabric/pkg/models"
)

type channelRequest struct {
	Type    models.ChannelType `json:"channel_type" binding:"required"`
	Name    string             `json:"channel_name" binding:"required"`
	Config  models.JSONMap     `json:"configuration" binding:"required"`
	Enabled *bool              `json:"is_enabled"`
}

func (s *Server) handleCreateChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if !models.ValidChannelType(req.Type) {
		abortBadRequest(c, fmt.Errorf("unknown channel type %q", req.Type))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	channel := &models.NotificationChannel{
		Type:    req.Type,
		Name:    req.Name,
		Config:  req.Config,
		Enabled: enabled,
	}
	if err := s.deps.Channels.Create(c.Request.Context(), channel); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sanitizeChannel(channel))
}

func (s *Server) handleListChannels(c *gin.Context) {
	out, err := s.deps.Channels.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	sanitized := make([]*models.NotificationChannel, 0, len(out))
	for _, ch := range out {
		sanitized = append(sanitized, sanitizeChannel(ch))
	}
	c.JSON(http.StatusOK, gin.H{"channels": sanitized, "count": len(sanitized)})
}

func (s *Server) handleGetChannel(c *gin.Context) {
	channel, err := s.deps.Channels.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sanitizeChannel(channel))
}

func (s *Server) handleUpdateChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if !models.ValidChannelType(req.Type) {
		abortBadRequest(c, fmt.Errorf("unknown channel type %q", req.Type))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	channel := &models.NotificationChannel{
		ID:      c.Param("id"),
		Type:    req.Type,
		Name:    req.Name,
		Config:  req.Config,
		Enabled: enabled,
	}
	if err := s.deps.Channels.Update(c.Request.Context(), channel); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sanitizeChannel(channel))
}

func (s *Server) handleDeleteChannel(c *gin.Context) {
	if err := s.deps.Channels.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSendNotification(c *gin.Context) {
	var req struct {
		IncidentID string               `json:"incident_id" binding:"required"`
		ChannelID  string               `json:"channel_id" binding:"required"`
		Alert      *models.AlertPayload `json:"alert" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	notificationID, err := s.deps.Notifier.Send(c.Request.Context(), req.IncidentID, req.ChannelID, req.Alert)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"notification_id": notificationID,
			"status":          "failed",
			"error":           err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"notification_id": notificationID,
		"status":          models.DeliveryDelivered,
	})
}

func (s *Server) handleTestChannel(c *gin.Context) {
	err := s.deps.Notifier.TestChannel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"status": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sanitizeChannel strips credential fields from API responses. The stored
// values stay sealed; this removes even the sealed forms from the surface.
func sanitizeChannel(ch *models.NotificationChannel) *models.NotificationChannel {
	if ch.Config == nil {
		return ch
	}
	clone := *ch
	clone.Config = make(models.JSONMap, len(ch.Config))
	for k, v := range ch.Config {
		if isSecretConfigKey(k) {
			clone.Config[k] = "********"
			continue
		}
		clone.Config[k] = v
	}
	return &clone
}

func isSecretConfigKey(k string) bool {
	switch k {
	case "password", "token", "api_key", "auth_token", "routing_key", "webhook_url":
		return true
	}
	return false
}
