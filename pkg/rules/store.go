package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/google/uuid"
)

// Sentinel errors for rule and incident operations.
var (
	ErrRuleNotFound     = errors.New("alert rule not found")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrOpenIncidents    = errors.New("rule has open incidents")
	ErrBadTransition    = errors.New("invalid incident status transition")
)

// Store persists alert rules and incidents.
type Store struct {
	db *database.Client
}

// NewStore creates a rule store.
func NewStore(db *database.Client) *Store {
	if db == nil {
		panic("rules.NewStore: db must not be nil")
	}
	return &Store{db: db}
}

// CreateRule inserts a new alert rule.
func (s *Store) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO alert_rules (
			rule_id, rule_name, description, rule_type, severity, condition,
			notification_channels, notification_config, cooldown_minutes,
			is_enabled, created_by, created_at, updated_at
		) VALUES (
			:rule_id, :rule_name, :description, :rule_type, :severity, :condition,
			:notification_channels, :notification_config, :cooldown_minutes,
			:is_enabled, :created_by, :created_at, :updated_at
		)`, rule)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetRule fetches a rule by id.
func (s *Store) GetRule(ctx context.Context, ruleID string) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := s.db.GetContext(ctx, &rule,
		`SELECT * FROM alert_rules WHERE rule_id = $1`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ListEnabledRules returns all enabled rules ordered by creation time.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*models.AlertRule, error) {
	var out []*models.AlertRule
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM alert_rules WHERE is_enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return out, nil
}

// ListRules returns all rules ordered by creation time.
func (s *Store) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	var out []*models.AlertRule
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM alert_rules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return out, nil
}

// UpdateRule rewrites a rule's mutable fields.
func (s *Store) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	rule.UpdatedAt = time.Now()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE alert_rules SET
			rule_name = :rule_name,
			description = :description,
			rule_type = :rule_type,
			severity = :severity,
			condition = :condition,
			notification_channels = :notification_channels,
			notification_config = :notification_config,
			cooldown_minutes = :cooldown_minutes,
			is_enabled = :is_enabled,
			updated_at = :updated_at
		WHERE rule_id = :rule_id`, rule)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule. Rules with open (active or acknowledged)
// incidents cannot be deleted.
func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	var open int
	err := s.db.GetContext(ctx, &open, `
		SELECT count(*) FROM alert_incidents
		WHERE rule_id = $1 AND status IN ('active', 'acknowledged')`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to count open incidents: %w", err)
	}
	if open > 0 {
		return ErrOpenIncidents
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// MarkTriggered records a firing time on the rule.
func (s *Store) MarkTriggered(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET last_triggered_at = $2, updated_at = $2
		WHERE rule_id = $1`, ruleID, at)
	if err != nil {
		return fmt.Errorf("failed to mark rule triggered: %w", err)
	}
	return nil
}

// CreateIncident inserts a new incident in active status.
func (s *Store) CreateIncident(ctx context.Context, incident *models.AlertIncident) error {
	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}
	if incident.Status == "" {
		incident.Status = models.IncidentActive
	}
	if incident.TriggeredAt.IsZero() {
		incident.TriggeredAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO alert_incidents (
			incident_id, rule_id, severity, title, message, incident_data,
			status, triggered_at, notification_status
		) VALUES (
			:incident_id, :rule_id, :severity, :title, :message, :incident_data,
			:status, :triggered_at, :notification_status
		)`, incident)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetIncident fetches an incident by id.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*models.AlertIncident, error) {
	var inc models.AlertIncident
	err := s.db.GetContext(ctx, &inc,
		`SELECT * FROM alert_incidents WHERE incident_id = $1`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &inc, nil
}

// ListIncidents returns incidents, optionally filtered by status, newest first.
func (s *Store) ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]*models.AlertIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.AlertIncident
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &out, `
			SELECT * FROM alert_incidents
			ORDER BY triggered_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, `
			SELECT * FROM alert_incidents WHERE status = $1
			ORDER BY triggered_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return out, nil
}

// AcknowledgeIncident transitions an incident to acknowledged.
// Acknowledging an already-acknowledged incident is a no-op that returns
// the incident with its prior acknowledged_at.
func (s *Store) AcknowledgeIncident(ctx context.Context, incidentID, userID string) (*models.AlertIncident, error) {
	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.Status == models.IncidentAcknowledged {
		return inc, nil
	}
	if !inc.CanTransition(models.IncidentAcknowledged) {
		return nil, ErrBadTransition
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE alert_incidents
		SET status = 'acknowledged', acknowledged_at = $2, acknowledged_by = $3
		WHERE incident_id = $1`, incidentID, now, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	inc.Status = models.IncidentAcknowledged
	inc.AcknowledgedAt = &now
	inc.AcknowledgedBy = &userID
	return inc, nil
}

// ResolveIncident transitions an incident to resolved or false_positive.
func (s *Store) ResolveIncident(ctx context.Context, incidentID, userID, notes string, falsePositive bool) (*models.AlertIncident, error) {
	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	target := models.IncidentResolved
	if falsePositive {
		target = models.IncidentFalsePositive
	}
	if !inc.CanTransition(target) {
		return nil, ErrBadTransition
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE alert_incidents
		SET status = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5
		WHERE incident_id = $1`, incidentID, target, now, userID, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	inc.Status = target
	inc.ResolvedAt = &now
	inc.ResolvedBy = &userID
	inc.ResolutionNotes = &notes
	return inc, nil
}
