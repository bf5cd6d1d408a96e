package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compliance-ops/regfabric/pkg/collab"
	"github.com/compliance-ops/regfabric/pkg/models"
)

func (s *Server) handleRegisterUser(c *gin.Context) {
	var user models.HumanUser
	if err := c.ShouldBindJSON(&user); err != nil {
		abortBadRequest(c, err)
		return
	}
	registered, err := s.deps.Collab.RegisterUser(user)
	if err != nil {
		if errors.Is(err, collab.ErrUserConflict) {
			abortWithError(c, err)
			return
		}
		abortBadRequest(c, err)
		return
	}
	c.JSON(http.StatusCreated, registered)
}

func (s *Server) handleListUsers(c *gin.Context) {
	users := s.deps.Collab.ListUsers()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		AgentID string `json:"agent_id" binding:"required"`
		Title   string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	session, err := s.deps.Collab.StartSession(c.Request.Context(), req.UserID, req.AgentID, req.Title)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.deps.Collab.ListSessions(c.Query("user_id"))
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.deps.Collab.GetSession(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handlePostMessage(c *gin.Context) {
	var req struct {
		Sender  string `json:"sender" binding:"required"`
		Role    string `json:"role" binding:"required,oneof=user agent"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	msg, err := s.deps.Collab.PostMessage(c.Request.Context(), c.Param("id"), req.Sender, req.Role, req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handlePauseSession(c *gin.Context) {
	if err := s.deps.Collab.PauseSession(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": models.SessionPaused})
}

func (s *Server) handleResumeSession(c *gin.Context) {
	if err := s.deps.Collab.ResumeSession(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": models.SessionActive})
}

func (s *Server) handleEndSession(c *gin.Context) {
	var req struct {
		Cancelled bool `json:"cancelled"`
	}
	// Body is optional; default is a normal completion.
	_ = c.ShouldBindJSON(&req)

	if err := s.deps.Collab.EndSession(c.Request.Context(), c.Param("id"), req.Cancelled); err != nil {
		abortWithError(c, err)
		return
	}
	state := models.SessionCompleted
	if req.Cancelled {
		state = models.SessionCancelled
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (s *Server) handleAddFeedback(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		Rating  int    `json:"rating" binding:"required"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	fb, err := s.deps.Collab.AddFeedback(c.Request.Context(), c.Param("id"), req.UserID, req.Rating, req.Comment)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleIntervene(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Action string `json:"action" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	iv, err := s.deps.Collab.Intervene(c.Request.Context(), c.Param("id"), req.UserID, req.Action, req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, iv)
}

func (s *Server) handleRaiseRequest(c *gin.Context) {
	var req struct {
		AgentID string         `json:"agent_id" binding:"required"`
		Kind    string         `json:"kind" binding:"required"`
		Payload models.JSONMap `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	request, err := s.deps.Collab.RaiseRequest(req.AgentID, req.Kind, req.Payload)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (s *Server) handlePendingRequests(c *gin.Context) {
	requests := s.deps.Collab.PendingRequests(c.Query("agent_id"))
	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

func (s *Server) handleRespondRequest(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id" binding:"required"`
		Response string `json:"response" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	request, err := s.deps.Collab.RespondToRequest(c.Param("id"), req.UserID, req.Response)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}
