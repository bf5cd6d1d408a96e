package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/compliance-ops/regfabric/pkg/secrets"
)

// ErrChannelNotFound is returned when a channel id does not exist.
var ErrChannelNotFound = errors.New("notification channel not found")

// secretConfigKeys are the configuration fields sealed at rest. Everything
// else in a channel's configuration is stored in the clear.
var secretConfigKeys = map[string]bool{
	"password":    true,
	"token":       true,
	"api_key":     true,
	"auth_token":  true,
	"routing_key": true,
	"webhook_url": true,
}

// ChannelStore persists notification channels, sealing credential fields
// with the platform cipher when one is configured.
type ChannelStore struct {
	db     *database.Client
	cipher *secrets.Cipher
}

// NewChannelStore creates a channel store. The cipher may be nil, in which
// case configurations are stored unencrypted.
func NewChannelStore(db *database.Client, cipher *secrets.Cipher) *ChannelStore {
	return &ChannelStore{db: db, cipher: cipher}
}

// Create inserts a new channel.
func (s *ChannelStore) Create(ctx context.Context, ch *models.NotificationChannel) error {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	cfg, err := s.sealConfig(ch.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_channels (
			channel_id, channel_type, channel_name, configuration, is_enabled
		) VALUES ($1, $2, $3, $4, $5)`,
		ch.ID, ch.Type, ch.Name, cfg, ch.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	return nil
}

// Get fetches a channel with its configuration opened.
func (s *ChannelStore) Get(ctx context.Context, channelID string) (*models.NotificationChannel, error) {
	var ch models.NotificationChannel
	err := s.db.GetContext(ctx, &ch,
		`SELECT * FROM notification_channels WHERE channel_id = $1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if ch.Config, err = s.openConfig(ch.Config); err != nil {
		return nil, err
	}
	return &ch, nil
}

// List returns all channels. Credential fields stay sealed; listing is for
// the API surface, which must not expose secrets.
func (s *ChannelStore) List(ctx context.Context) ([]*models.NotificationChannel, error) {
	var out []*models.NotificationChannel
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM notification_channels ORDER BY channel_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return out, nil
}

// Update rewrites a channel's mutable fields.
func (s *ChannelStore) Update(ctx context.Context, ch *models.NotificationChannel) error {
	cfg, err := s.sealConfig(ch.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_channels SET
			channel_type = $2, channel_name = $3, configuration = $4, is_enabled = $5
		WHERE channel_id = $1`,
		ch.ID, ch.Type, ch.Name, cfg, ch.Enabled)
	if err != nil {
		return fmt.Errorf("failed to update channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// Delete removes a channel.
func (s *ChannelStore) Delete(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// RecordTest stores the outcome of a channel test delivery.
func (s *ChannelStore) RecordTest(ctx context.Context, channelID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_channels SET last_tested_at = now(), test_status = $2
		WHERE channel_id = $1`, channelID, status)
	if err != nil {
		return fmt.Errorf("failed to record channel test: %w", err)
	}
	return nil
}

func (s *ChannelStore) sealConfig(cfg models.JSONMap) (models.JSONMap, error) {
	if s.cipher == nil || cfg == nil {
		return cfg, nil
	}
	out := make(models.JSONMap, len(cfg))
	for k, v := range cfg {
		str, isString := v.(string)
		if !secretConfigKeys[k] || !isString || str == "" {
			out[k] = v
			continue
		}
		sealed, err := s.cipher.Seal(str)
		if err != nil {
			return nil, fmt.Errorf("failed to seal channel config %q: %w", k, err)
		}
		out[k] = sealed
	}
	return out, nil
}

func (s *ChannelStore) openConfig(cfg models.JSONMap) (models.JSONMap, error) {
	if s.cipher == nil || cfg == nil {
		return cfg, nil
	}
	out := make(models.JSONMap, len(cfg))
	for k, v := range cfg {
		str, isString := v.(string)
		if !secretConfigKeys[k] || !isString || str == "" {
			out[k] = v
			continue
		}
		opened, err := s.cipher.Open(str)
		if err != nil {
			return nil, fmt.Errorf("failed to open channel config %q: %w", k, err)
		}
		out[k] = opened
	}
	return out, nil
}
