package regmonitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// ErrSubscriptionNotFound is returned when a subscriber has no persisted
// registration.
var ErrSubscriptionNotFound = errors.New("regulatory subscription not found")

// Subscription is a persisted subscriber registration, keyed by the
// subscribing agent's id. The callback itself is process-local and
// re-registered on startup; the row keeps the filter across restarts.
type Subscription struct {
	AgentID    string    `db:"agent_id" json:"agent_id"`
	FilterJSON []byte    `db:"filter_criteria" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Filter models.SubscriptionFilter `db:"-" json:"filter"`
}

// SubscriptionStore persists subscriber registrations.
type SubscriptionStore struct {
	db *database.Client
}

// NewSubscriptionStore creates a subscription store.
func NewSubscriptionStore(db *database.Client) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Save upserts a subscription for an agent.
func (s *SubscriptionStore) Save(ctx context.Context, agentID string, filter models.SubscriptionFilter) (*Subscription, error) {
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize filter: %w", err)
	}
	var sub Subscription
	err = s.db.GetContext(ctx, &sub, `
		INSERT INTO regulatory_subscriptions (agent_id, filter_criteria, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (agent_id)
		DO UPDATE SET filter_criteria = EXCLUDED.filter_criteria, updated_at = now()
		RETURNING agent_id, filter_criteria, created_at, updated_at`,
		agentID, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	sub.Filter = filter
	return &sub, nil
}

// List returns all persisted subscriptions.
func (s *SubscriptionStore) List(ctx context.Context) ([]*Subscription, error) {
	var out []*Subscription
	err := s.db.SelectContext(ctx, &out, `
		SELECT agent_id, filter_criteria, created_at, updated_at
		FROM regulatory_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	for _, sub := range out {
		if err := json.Unmarshal(sub.FilterJSON, &sub.Filter); err != nil {
			return nil, fmt.Errorf("corrupt filter for subscriber %s: %w", sub.AgentID, err)
		}
	}
	return out, nil
}

// Get fetches a subscription by agent id.
func (s *SubscriptionStore) Get(ctx context.Context, agentID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.GetContext(ctx, &sub, `
		SELECT agent_id, filter_criteria, created_at, updated_at
		FROM regulatory_subscriptions WHERE agent_id = $1`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if err := json.Unmarshal(sub.FilterJSON, &sub.Filter); err != nil {
		return nil, fmt.Errorf("corrupt subscription filter: %w", err)
	}
	return &sub, nil
}

// Delete removes a subscription by agent id.
func (s *SubscriptionStore) Delete(ctx context.Context, agentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM regulatory_subscriptions WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
