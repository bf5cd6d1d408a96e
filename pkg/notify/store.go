package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// ErrAlreadyDelivered is returned when a delivery is recorded against an
// attempt that already reached the delivered state.
var ErrAlreadyDelivered = errors.New("notification already delivered")

// AttemptStore persists notification delivery attempts.
type AttemptStore struct {
	db *database.Client
}

// NewAttemptStore creates an attempt store.
func NewAttemptStore(db *database.Client) *AttemptStore {
	return &AttemptStore{db: db}
}

// Create inserts a pending attempt for an incident/channel pair.
func (s *AttemptStore) Create(ctx context.Context, incidentID, channelID string) (*models.NotificationAttempt, error) {
	attempt := &models.NotificationAttempt{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		ChannelID:  channelID,
		Status:     models.DeliveryPending,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_notifications (
			notification_id, incident_id, channel_id, delivery_status, retry_count
		) VALUES ($1, $2, $3, $4, 0)`,
		attempt.ID, attempt.IncidentID, attempt.ChannelID, attempt.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification attempt: %w", err)
	}
	return attempt, nil
}

// MarkDelivered records a successful delivery. Delivered is terminal: a row
// that already reached it is not updated again, and the caller gets
// ErrAlreadyDelivered.
func (s *AttemptStore) MarkDelivered(ctx context.Context, notificationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_notifications
		SET delivery_status = 'delivered', sent_at = now(), error_message = NULL,
		    next_retry_at = NULL
		WHERE notification_id = $1 AND delivery_status <> 'delivered'`, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyDelivered
	}
	return nil
}

// MarkFailed records a failed attempt. While retry_count is below the cap
// the row moves to retrying with a scheduled next_retry_at; once the cap is
// reached the status is terminally failed.
func (s *AttemptStore) MarkFailed(ctx context.Context, attempt *models.NotificationAttempt, deliveryErr error, maxRetries int, baseDelay time.Duration) error {
	attempt.RetryCount++
	msg := deliveryErr.Error()
	attempt.Error = &msg

	if attempt.RetryCount >= maxRetries {
		// next_retry_at is left in place as an age marker for retention;
		// the reclaim query filters on retry_count, so the row cannot be
		// picked up again.
		attempt.Status = models.DeliveryFailed
		_, err := s.db.ExecContext(ctx, `
			UPDATE alert_notifications
			SET delivery_status = 'failed', retry_count = $2, error_message = $3,
			    next_retry_at = coalesce(next_retry_at, now())
			WHERE notification_id = $1`,
			attempt.ID, attempt.RetryCount, msg)
		if err != nil {
			return fmt.Errorf("failed to mark notification failed: %w", err)
		}
		return nil
	}

	next := time.Now().Add(retryDelay(baseDelay, attempt.RetryCount))
	attempt.Status = models.DeliveryRetrying
	attempt.NextRetryAt = &next
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_notifications
		SET delivery_status = 'retrying', retry_count = $2, error_message = $3,
		    next_retry_at = $4
		WHERE notification_id = $1`,
		attempt.ID, attempt.RetryCount, msg, next)
	if err != nil {
		return fmt.Errorf("failed to schedule notification retry: %w", err)
	}
	return nil
}

// ReclaimDue atomically claims attempts whose retry is due, moving them
// back to pending so a crashed worker cannot strand them. SKIP LOCKED keeps
// concurrent retry passes from claiming the same rows.
func (s *AttemptStore) ReclaimDue(ctx context.Context, maxRetries, limit int) ([]*models.NotificationAttempt, error) {
	var out []*models.NotificationAttempt
	err := s.db.SelectContext(ctx, &out, `
		UPDATE alert_notifications
		SET delivery_status = 'pending'
		WHERE notification_id IN (
			SELECT notification_id FROM alert_notifications
			WHERE delivery_status IN ('failed', 'retrying')
			  AND retry_count < $1
			  AND next_retry_at IS NOT NULL
			  AND next_retry_at <= now()
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim due notifications: %w", err)
	}
	return out, nil
}

// ListForIncident returns all attempts for an incident.
func (s *AttemptStore) ListForIncident(ctx context.Context, incidentID string) ([]*models.NotificationAttempt, error) {
	var out []*models.NotificationAttempt
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM alert_notifications WHERE incident_id = $1
		ORDER BY sent_at NULLS LAST`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification attempts: %w", err)
	}
	return out, nil
}

// retryDelay computes base * 2^retryCount with ±25% jitter so synchronized
// failures do not retry in lockstep.
func retryDelay(base time.Duration, retryCount int) time.Duration {
	delay := base << uint(retryCount)
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}
