package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/collab"
	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/compliance-ops/regfabric/pkg/regmonitor"
)

func TestSessionStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	store := collab.NewSessionStore(NewTestClient(t))

	now := time.Now().Truncate(time.Millisecond)
	session := &models.CollaborationSession{
		SessionID: "sess-1",
		UserID:    "op-1",
		AgentID:   "agent-1",
		Title:     "case review",
		State:     models.SessionActive,
		Messages: []models.SessionMessage{
			{MessageID: "m-1", Sender: "op-1", Role: "user", Content: "status?", Timestamp: now},
		},
		CreatedAt:    now,
		LastActivity: now,
	}
	require.NoError(t, store.Save(ctx, session))

	// Upsert replaces mutable fields.
	session.State = models.SessionPaused
	session.Messages = append(session.Messages, models.SessionMessage{
		MessageID: "m-2", Sender: "agent-1", Role: "agent", Content: "reviewing", Timestamp: now,
	})
	require.NoError(t, store.Save(ctx, session))

	open, err := store.LoadOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.SessionPaused, open[0].State)
	require.Len(t, open[0].Messages, 2)
	assert.Equal(t, "reviewing", open[0].Messages[1].Content)

	// Terminal sessions are not restored.
	ended := now.Add(time.Minute)
	session.State = models.SessionCompleted
	session.EndedAt = &ended
	require.NoError(t, store.Save(ctx, session))

	open, err = store.LoadOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, store.Delete(ctx, "sess-1"))
}

func TestSubscriptionStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store := regmonitor.NewSubscriptionStore(NewTestClient(t))

	filter := models.SubscriptionFilter{Sources: []string{"SEC"}}
	sub, err := store.Save(ctx, "agent-1", filter)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", sub.AgentID)

	// Saving again for the same agent replaces the filter.
	_, err = store.Save(ctx, "agent-1", models.SubscriptionFilter{Severities: []string{"critical"}})
	require.NoError(t, err)

	got, err := store.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, got.Filter.Sources)
	assert.Equal(t, []string{"critical"}, got.Filter.Severities)

	_, err = store.Save(ctx, "agent-2", models.SubscriptionFilter{})
	require.NoError(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, "agent-1"))
	_, err = store.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, regmonitor.ErrSubscriptionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "agent-1"), regmonitor.ErrSubscriptionNotFound)
}
