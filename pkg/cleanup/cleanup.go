// Package cleanup implements the retention service: periodic deletion of
// resolved incidents and terminal notification attempts past their
// retention windows.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/database"
)

// Service runs the retention sweeps on a fixed interval.
type Service struct {
	log *slog.Logger
	cfg *config.RetentionConfig
	db  *database.Client

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates a cleanup service.
func NewService(cfg *config.RetentionConfig, db *database.Client, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{
		log:    logger.With("component", "cleanup"),
		cfg:    cfg,
		db:     db,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so a long
// cleanup interval does not delay the first pass after deployment.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("Starting cleanup service",
		"incident_retention", s.cfg.IncidentRetention,
		"notification_ttl", s.cfg.NotificationTTL,
		"interval", s.cfg.CleanupInterval)
	go s.run(ctx)
}

// Stop terminates the sweep loop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	s.log.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs both retention deletions once.
func (s *Service) Sweep(ctx context.Context) {
	notifications, err := s.sweepNotifications(ctx)
	if err != nil {
		s.log.Error("Notification sweep failed", "error", err)
	}
	incidents, err := s.sweepIncidents(ctx)
	if err != nil {
		s.log.Error("Incident sweep failed", "error", err)
	}
	if notifications > 0 || incidents > 0 {
		s.log.Info("Retention sweep complete",
			"incidents_deleted", incidents,
			"notifications_deleted", notifications)
	}
}

// sweepIncidents deletes resolved and false-positive incidents older than
// the retention window, removing their notification attempts first to
// satisfy the foreign key. Open incidents are never touched.
func (s *Service) sweepIncidents(ctx context.Context) (int64, error) {
	interval := intervalArg(s.cfg.IncidentRetention)
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM alert_notifications
		WHERE incident_id IN (
			SELECT incident_id FROM alert_incidents
			WHERE status IN ('resolved', 'false_positive')
			  AND resolved_at < now() - $1::interval
		)`, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications of expired incidents: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM alert_incidents
		WHERE status IN ('resolved', 'false_positive')
		  AND resolved_at < now() - $1::interval`, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired incidents: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// sweepNotifications deletes terminal notification attempts older than the
// TTL. Attempts still pending or retrying are kept regardless of age.
// Failed attempts were never sent, so their age comes from the last
// scheduled retry instead of sent_at.
func (s *Service) sweepNotifications(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM alert_notifications
		WHERE delivery_status IN ('sent', 'delivered', 'failed', 'bounced')
		  AND coalesce(sent_at, next_retry_at) < now() - $1::interval`,
		intervalArg(s.cfg.NotificationTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}
