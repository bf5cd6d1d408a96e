// Package api exposes the platform's HTTP surface: rule and incident
// management, notification channels, fraud scans, the activity feed with
// websocket streaming, and collaboration sessions.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/compliance-ops/regfabric/pkg/activity"
	"github.com/compliance-ops/regfabric/pkg/collab"
	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/notify"
	"github.com/compliance-ops/regfabric/pkg/regmonitor"
	"github.com/compliance-ops/regfabric/pkg/rules"
	"github.com/compliance-ops/regfabric/pkg/scan"
)

// Deps are the services the API serves. Nil entries disable their routes'
// backing functionality and are a programming error in production wiring.
type Deps struct {
	DB         *database.Client
	Rules      *rules.Store
	Engine     *rules.Engine
	Channels   *notify.ChannelStore
	Attempts   *notify.AttemptStore
	Notifier   *notify.Service
	Subscriber *regmonitor.Subscriber
	Feed       *activity.Feed
	Stream     *activity.StreamHub
	Scan       *scan.Store
	Collab     *collab.Manager
	Metrics    *metrics.Registry
	JWTSecret  string
}

// Server is the HTTP API server.
type Server struct {
	log    *slog.Logger
	deps   Deps
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router and all routes.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		log:    logger.With("component", "api"),
		deps:   deps,
		router: router,
	}
	router.Use(gin.Recovery(), requestLogger(s.log))
	s.registerRoutes()
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.deps.Metrics.Prometheus(), promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1", jwtAuth(s.deps.JWTSecret))

	v1.POST("/alert-rules", s.handleCreateRule)
	v1.GET("/alert-rules", s.handleListRules)
	v1.GET("/alert-rules/:id", s.handleGetRule)
	v1.PUT("/alert-rules/:id", s.handleUpdateRule)
	v1.DELETE("/alert-rules/:id", s.handleDeleteRule)
	v1.POST("/alert-rules/evaluate", s.handleTriggerEvaluation)
	v1.GET("/alert-rules/stats", s.handleEngineStats)

	v1.GET("/incidents", s.handleListIncidents)
	v1.GET("/incidents/:id", s.handleGetIncident)
	v1.POST("/incidents/:id/acknowledge", s.handleAcknowledgeIncident)
	v1.POST("/incidents/:id/resolve", s.handleResolveIncident)
	v1.GET("/incidents/:id/notifications", s.handleIncidentNotifications)

	v1.POST("/channels", s.handleCreateChannel)
	v1.GET("/channels", s.handleListChannels)
	v1.GET("/channels/:id", s.handleGetChannel)
	v1.PUT("/channels/:id", s.handleUpdateChannel)
	v1.DELETE("/channels/:id", s.handleDeleteChannel)
	v1.POST("/channels/:id/test", s.handleTestChannel)
	v1.POST("/notifications/send", s.handleSendNotification)

	v1.GET("/regulatory/stats", s.handleRegulatoryStats)

	v1.POST("/activity/events", s.handleRecordActivity)
	v1.GET("/activity/events", s.handleQueryActivity)
	v1.GET("/activity/agents", s.handleActivityAgents)
	v1.GET("/activity/agents/:id/stats", s.handleAgentStats)
	v1.GET("/activity/export", s.handleActivityExport)
	if s.deps.Stream != nil {
		v1.GET("/activity/stream", gin.WrapH(s.deps.Stream))
	}

	v1.POST("/scans", s.handleEnqueueScan)
	v1.GET("/scans", s.handleListScans)
	v1.GET("/scans/:id", s.handleGetScan)
	v1.GET("/fraud-alerts", s.handleListFraudAlerts)

	v1.POST("/collab/users", s.handleRegisterUser)
	v1.GET("/collab/users", s.handleListUsers)
	v1.POST("/collab/sessions", s.handleStartSession)
	v1.GET("/collab/sessions", s.handleListSessions)
	v1.GET("/collab/sessions/:id", s.handleGetSession)
	v1.POST("/collab/sessions/:id/messages", s.handlePostMessage)
	v1.POST("/collab/sessions/:id/pause", s.handlePauseSession)
	v1.POST("/collab/sessions/:id/resume", s.handleResumeSession)
	v1.POST("/collab/sessions/:id/end", s.handleEndSession)
	v1.POST("/collab/sessions/:id/feedback", s.handleAddFeedback)
	v1.POST("/collab/sessions/:id/interventions", s.handleIntervene)
	v1.POST("/collab/requests", s.handleRaiseRequest)
	v1.GET("/collab/requests", s.handlePendingRequests)
	v1.POST("/collab/requests/:id/respond", s.handleRespondRequest)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	s.log.Info("API server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	code := http.StatusOK
	if s.deps.DB != nil {
		db := s.deps.DB.Health(c.Request.Context())
		status["database"] = db
		if !db.Reachable {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if s.deps.Subscriber != nil {
		status["regulatory_subscriber"] = s.deps.Subscriber.GetStats()
	}
	c.JSON(code, status)
}
