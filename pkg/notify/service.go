// Package notify implements the notification service: a worker pool that
// fans incidents out to configured channels, with persisted attempts and
// exponential-backoff retries.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// deliveryRequest is one unit of work for the worker pool.
type deliveryRequest struct {
	attempt *models.NotificationAttempt
	payload *models.AlertPayload
}

// Service delivers notifications through a fixed pool of workers. Enqueue
// persists a pending attempt per channel before queuing, so a crash between
// enqueue and delivery is recoverable by the retry loop.
type Service struct {
	log         *slog.Logger
	cfg         *config.NotifyConfig
	channels    *ChannelStore
	attempts    *AttemptStore
	dispatchers map[models.ChannelType]Dispatcher
	metrics     *metrics.Registry

	queue    chan deliveryRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	payloads map[string]*models.AlertPayload
}

// NewService creates the notification service.
func NewService(cfg *config.NotifyConfig, smtp *config.SMTPConfig, channels *ChannelStore, attempts *AttemptStore, m *metrics.Registry, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultNotifyConfig()
	}
	httpClient := &http.Client{Timeout: cfg.DeliveryTimeout}
	return &Service{
		log:         logger.With("component", "notification_service"),
		cfg:         cfg,
		channels:    channels,
		attempts:    attempts,
		dispatchers: newDispatcherSet(smtp, httpClient),
		metrics:     m,
		queue:       make(chan deliveryRequest, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		payloads:    map[string]*models.AlertPayload{},
	}
}

// Start launches the delivery workers and the retry loop.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("Starting notification service",
		"workers", s.cfg.WorkerCount,
		"queue_size", s.cfg.QueueSize,
		"max_retries", s.cfg.MaxRetryAttempts)

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.retryLoop(ctx)
}

// Stop drains the workers. Queued requests that have not been picked up
// stay pending in the store and are reclaimed on the next start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.log.Info("Notification service stopped")
}

// EnqueueIncident creates a pending attempt for each channel and queues the
// deliveries. Implements the rule engine's Notifier interface.
func (s *Service) EnqueueIncident(ctx context.Context, incident *models.AlertIncident, channelIDs []string) error {
	payload := &models.AlertPayload{
		Title:    incident.Title,
		Message:  incident.Message,
		Severity: incident.Severity,
		Data:     incident.Data,
	}

	var firstErr error
	for _, channelID := range channelIDs {
		attempt, err := s.attempts.Create(ctx, incident.ID, channelID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.log.Error("Failed to persist notification attempt",
				"incident_id", incident.ID, "channel_id", channelID, "error", err)
			continue
		}
		s.rememberPayload(attempt.ID, payload)

		select {
		case s.queue <- deliveryRequest{attempt: attempt, payload: payload}:
		case <-s.stopCh:
			return fmt.Errorf("notification service is stopped")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

// Send delivers one notification synchronously: a pending attempt is
// persisted, the dispatch runs inline, and the caller gets the notification
// id either way. On failure the attempt enters the retry schedule.
func (s *Service) Send(ctx context.Context, incidentID, channelID string, payload *models.AlertPayload) (string, error) {
	attempt, err := s.attempts.Create(ctx, incidentID, channelID)
	if err != nil {
		return "", err
	}
	s.rememberPayload(attempt.ID, payload)

	deliveryCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	if err := s.attemptDelivery(deliveryCtx, s.log, attempt, payload); err != nil {
		return attempt.ID, err
	}
	return attempt.ID, nil
}

// TestChannel delivers a canned payload through a channel and records the
// outcome on the channel row.
func (s *Service) TestChannel(ctx context.Context, channelID string) error {
	channel, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return err
	}
	payload := &models.AlertPayload{
		Title:    "Test notification",
		Message:  fmt.Sprintf("Connectivity test for channel %q.", channel.Name),
		Severity: models.SeverityLow,
	}

	err = s.deliver(ctx, channel, &Delivery{NotificationID: "test", IncidentID: "test", Payload: payload})
	status := "ok"
	if err != nil {
		status = "failed: " + err.Error()
	}
	if recErr := s.channels.RecordTest(ctx, channelID, status); recErr != nil {
		s.log.Error("Failed to record channel test", "channel_id", channelID, "error", recErr)
	}
	return err
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.With("worker", id)

	for {
		select {
		case req := <-s.queue:
			s.process(ctx, log, req)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) process(ctx context.Context, log *slog.Logger, req deliveryRequest) {
	deliveryCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	_ = s.attemptDelivery(deliveryCtx, log, req.attempt, req.payload)
}

// attemptDelivery runs one delivery end to end: channel lookup, dispatch,
// and status write-through. Failures are recorded for the retry loop.
func (s *Service) attemptDelivery(ctx context.Context, log *slog.Logger, attempt *models.NotificationAttempt, payload *models.AlertPayload) error {
	channel, err := s.channels.Get(ctx, attempt.ChannelID)
	if err != nil {
		s.fail(ctx, log, attempt, channel, err)
		return err
	}
	if !channel.Enabled {
		err := fmt.Errorf("channel %s is disabled", channel.ID)
		s.fail(ctx, log, attempt, channel, err)
		return err
	}

	start := time.Now()
	err = s.deliver(ctx, channel, &Delivery{
		NotificationID: attempt.ID,
		IncidentID:     attempt.IncidentID,
		Payload:        payload,
	})
	if s.metrics != nil {
		s.metrics.DeliverySeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.fail(ctx, log, attempt, channel, err)
		return err
	}

	if err := s.attempts.MarkDelivered(ctx, attempt.ID); err != nil {
		log.Error("Delivered but failed to persist status",
			"notification_id", attempt.ID, "error", err)
		return err
	}
	s.forgetPayload(attempt.ID)
	if s.metrics != nil {
		s.metrics.NotificationsSent.WithLabelValues(string(channel.Type)).Inc()
	}
	log.Info("Notification delivered",
		"notification_id", attempt.ID,
		"incident_id", attempt.IncidentID,
		"channel_type", channel.Type)
	return nil
}

func (s *Service) deliver(ctx context.Context, channel *models.NotificationChannel, d *Delivery) error {
	dispatcher, ok := s.dispatchers[channel.Type]
	if !ok {
		return fmt.Errorf("no dispatcher for channel type %q", channel.Type)
	}
	return dispatcher.Dispatch(ctx, channel, d)
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, attempt *models.NotificationAttempt, channel *models.NotificationChannel, deliveryErr error) {
	channelType := "unknown"
	if channel != nil {
		channelType = string(channel.Type)
	}
	if s.metrics != nil {
		s.metrics.NotificationFailures.WithLabelValues(channelType).Inc()
	}
	log.Warn("Notification delivery failed",
		"notification_id", attempt.ID,
		"incident_id", attempt.IncidentID,
		"retry_count", attempt.RetryCount,
		"error", deliveryErr)

	if err := s.attempts.MarkFailed(ctx, attempt, deliveryErr, s.cfg.MaxRetryAttempts, s.cfg.RetryBaseDelay); err != nil {
		log.Error("Failed to persist delivery failure",
			"notification_id", attempt.ID, "error", err)
	}
	if attempt.Status == models.DeliveryFailed {
		s.forgetPayload(attempt.ID)
		log.Error("Notification permanently failed",
			"notification_id", attempt.ID,
			"incident_id", attempt.IncidentID,
			"retries", attempt.RetryCount)
	}
}

// retryLoop periodically reclaims attempts whose backoff has elapsed and
// requeues them.
func (s *Service) retryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runRetryPass(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runRetryPass(ctx context.Context) {
	due, err := s.attempts.ReclaimDue(ctx, s.cfg.MaxRetryAttempts, s.cfg.RetryBatchLimit)
	if err != nil {
		s.log.Error("Retry reclaim failed", "error", err)
		return
	}
	for _, attempt := range due {
		if s.metrics != nil {
			s.metrics.RetriesAttempted.Inc()
		}
		payload := s.recallPayload(attempt.ID)
		if payload == nil {
			// Process restarted since the attempt was queued; rebuild the
			// payload from the incident row.
			payload, err = s.payloadFromIncident(ctx, attempt.IncidentID)
			if err != nil {
				s.log.Error("Cannot rebuild payload for retry",
					"notification_id", attempt.ID, "error", err)
				continue
			}
			s.rememberPayload(attempt.ID, payload)
		}

		select {
		case s.queue <- deliveryRequest{attempt: attempt, payload: payload}:
			s.log.Info("Requeued notification for retry",
				"notification_id", attempt.ID, "retry_count", attempt.RetryCount)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) payloadFromIncident(ctx context.Context, incidentID string) (*models.AlertPayload, error) {
	var row struct {
		Title    string          `db:"title"`
		Message  string          `db:"message"`
		Severity models.Severity `db:"severity"`
		Data     models.JSONMap  `db:"incident_data"`
	}
	err := s.attempts.db.GetContext(ctx, &row, `
		SELECT title, message, severity, incident_data
		FROM alert_incidents WHERE incident_id = $1`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", incidentID, err)
	}
	return &models.AlertPayload{
		Title: row.Title, Message: row.Message, Severity: row.Severity, Data: row.Data,
	}, nil
}

func (s *Service) rememberPayload(notificationID string, payload *models.AlertPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[notificationID] = payload
}

func (s *Service) recallPayload(notificationID string) *models.AlertPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payloads[notificationID]
}

func (s *Service) forgetPayload(notificationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, notificationID)
}
