package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbclient "github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/compliance-ops/regfabric/pkg/notify"
	"github.com/compliance-ops/regfabric/pkg/rules"
	"github.com/compliance-ops/regfabric/pkg/secrets"
)

func newTestCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return cipher
}

// notifyFixture inserts the channel and incident rows an attempt needs.
func notifyFixture(t *testing.T, ctx context.Context, db *dbclient.Client) (incidentID, channelID string) {
	t.Helper()

	ruleStore := rules.NewStore(db)
	rule := newThresholdRule("notify fixture")
	require.NoError(t, ruleStore.CreateRule(ctx, rule))

	incident := &models.AlertIncident{
		RuleID:   rule.ID,
		Severity: models.SeverityHigh,
		Title:    "fixture incident",
	}
	require.NoError(t, ruleStore.CreateIncident(ctx, incident))

	channels := notify.NewChannelStore(db, nil)
	channel := &models.NotificationChannel{
		Type:    models.ChannelWebhook,
		Name:    "fixture webhook",
		Config:  models.JSONMap{"url": "https://example.com/hook"},
		Enabled: true,
	}
	require.NoError(t, channels.Create(ctx, channel))

	return incident.ID, channel.ID
}

func TestAttemptStore_RetrySchedule(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)
	store := notify.NewAttemptStore(db)
	incidentID, channelID := notifyFixture(t, ctx, db)

	attempt, err := store.Create(ctx, incidentID, channelID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, attempt.Status)

	require.NoError(t, store.MarkFailed(ctx, attempt, errors.New("connection refused"), 3, time.Minute))
	assert.Equal(t, models.DeliveryRetrying, attempt.Status)
	assert.Equal(t, 1, attempt.RetryCount)
	require.NotNil(t, attempt.NextRetryAt)
	assert.True(t, attempt.NextRetryAt.After(time.Now()))

	// Not due yet, so nothing is reclaimed.
	due, err := store.ReclaimDue(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Backdate the schedule and reclaim.
	_, err = db.ExecContext(ctx, `
		UPDATE alert_notifications SET next_retry_at = now() - interval '1 minute'
		WHERE notification_id = $1`, attempt.ID)
	require.NoError(t, err)

	due, err = store.ReclaimDue(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, attempt.ID, due[0].ID)
	assert.Equal(t, models.DeliveryPending, due[0].Status)

	// A second pass finds nothing; the row is pending now.
	due, err = store.ReclaimDue(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestAttemptStore_RetryExhaustion(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)
	store := notify.NewAttemptStore(db)
	incidentID, channelID := notifyFixture(t, ctx, db)

	attempt, err := store.Create(ctx, incidentID, channelID)
	require.NoError(t, err)

	deliveryErr := errors.New("410 gone")
	require.NoError(t, store.MarkFailed(ctx, attempt, deliveryErr, 2, time.Minute))
	require.NoError(t, store.MarkFailed(ctx, attempt, deliveryErr, 2, time.Minute))
	assert.Equal(t, models.DeliveryFailed, attempt.Status)
	assert.Equal(t, 2, attempt.RetryCount)

	// Terminally failed rows keep next_retry_at as an age marker but are
	// never reclaimed, even once due.
	_, err = db.ExecContext(ctx, `
		UPDATE alert_notifications SET next_retry_at = now() - interval '1 hour'
		WHERE notification_id = $1`, attempt.ID)
	require.NoError(t, err)

	due, err := store.ReclaimDue(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	attempts, err := store.ListForIncident(ctx, incidentID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.DeliveryFailed, attempts[0].Status)
	require.NotNil(t, attempts[0].Error)
	assert.Equal(t, "410 gone", *attempts[0].Error)
	assert.NotNil(t, attempts[0].NextRetryAt)
}

func TestAttemptStore_MarkDelivered(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)
	store := notify.NewAttemptStore(db)
	incidentID, channelID := notifyFixture(t, ctx, db)

	attempt, err := store.Create(ctx, incidentID, channelID)
	require.NoError(t, err)

	// A retrying row reaches delivered with its retry bookkeeping cleared.
	require.NoError(t, store.MarkFailed(ctx, attempt, errors.New("503"), 3, time.Minute))
	require.NoError(t, store.MarkDelivered(ctx, attempt.ID))

	attempts, err := store.ListForIncident(ctx, incidentID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.DeliveryDelivered, attempts[0].Status)
	assert.NotNil(t, attempts[0].SentAt)
	assert.Nil(t, attempts[0].NextRetryAt)
	assert.Nil(t, attempts[0].Error)

	// Delivered is terminal; recording another delivery is rejected and
	// leaves the row untouched.
	_, err = db.ExecContext(ctx, `
		UPDATE alert_notifications SET sent_at = now() - interval '1 hour'
		WHERE notification_id = $1`, attempt.ID)
	require.NoError(t, err)
	firstSentAt := attempts[0].SentAt

	assert.ErrorIs(t, store.MarkDelivered(ctx, attempt.ID), notify.ErrAlreadyDelivered)
	attempts, err = store.ListForIncident(ctx, incidentID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, attempts[0].Status)
	assert.True(t, attempts[0].SentAt.Before(*firstSentAt))
}

func TestChannelStore_SealedAtRest(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)

	cipher := newTestCipher(t)
	store := notify.NewChannelStore(db, cipher)

	channel := &models.NotificationChannel{
		Type: models.ChannelSlack,
		Name: "ops alerts",
		Config: models.JSONMap{
			"webhook_url": "https://hooks.slack.com/services/T0/B0/secret",
			"channel":     "#ops",
		},
		Enabled: true,
	}
	require.NoError(t, store.Create(ctx, channel))

	// Raw row holds the sealed form, not the plaintext.
	var raw models.JSONMap
	require.NoError(t, db.GetContext(ctx, &raw,
		`SELECT configuration FROM notification_channels WHERE channel_id = $1`, channel.ID))
	assert.NotEqual(t, "https://hooks.slack.com/services/T0/B0/secret", raw["webhook_url"])
	assert.Equal(t, "#ops", raw["channel"])

	// Get opens the sealed values for dispatch.
	got, err := store.Get(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.slack.com/services/T0/B0/secret", got.Config["webhook_url"])

	// List keeps them sealed.
	listed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotEqual(t, "https://hooks.slack.com/services/T0/B0/secret", listed[0].Config["webhook_url"])
}
