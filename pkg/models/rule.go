// Package models contains the shared domain types persisted by the platform.
package models

import "time"

// RuleType classifies how an alert rule condition is evaluated.
type RuleType string

// Alert rule types.
const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypePattern   RuleType = "pattern"
	RuleTypeAnomaly   RuleType = "anomaly"
	RuleTypeScheduled RuleType = "scheduled"
)

// Severity is the shared severity scale for rules, incidents, and events.
type Severity string

// Severity levels, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ValidRuleType reports whether t is a known rule type.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleTypeThreshold, RuleTypePattern, RuleTypeAnomaly, RuleTypeScheduled:
		return true
	}
	return false
}

// ComparisonOp is a threshold comparison operator.
type ComparisonOp string

// Threshold comparison operators. Eq and Ne compare with epsilon 1e-4.
const (
	OpGreaterThan  ComparisonOp = "gt"
	OpGreaterEqual ComparisonOp = "gte"
	OpLessThan     ComparisonOp = "lt"
	OpLessEqual    ComparisonOp = "lte"
	OpEqual        ComparisonOp = "eq"
	OpNotEqual     ComparisonOp = "ne"
)

// RuleCondition is the structured condition of an alert rule. Which fields
// are meaningful depends on the rule type:
//
//   - threshold: Metric, Operator, Threshold
//   - pattern:   Metric (data slice name), Pattern (regex, case-insensitive)
//   - anomaly:   Metric, Sensitivity (std-dev multiplier, default 2.0)
//   - scheduled: Schedule (cron expression)
type RuleCondition struct {
	Metric      string       `json:"metric,omitempty"`
	Operator    ComparisonOp `json:"operator,omitempty"`
	Threshold   float64      `json:"threshold,omitempty"`
	Pattern     string       `json:"pattern,omitempty"`
	Sensitivity float64      `json:"sensitivity,omitempty"`
	Schedule    string       `json:"schedule,omitempty"`
}

// AlertRule is an operator-defined alerting rule evaluated periodically
// by the rule engine.
type AlertRule struct {
	ID                   string     `db:"rule_id" json:"rule_id"`
	Name                 string     `db:"rule_name" json:"rule_name"`
	Description          string     `db:"description" json:"description,omitempty"`
	Type                 RuleType   `db:"rule_type" json:"rule_type"`
	Severity             Severity   `db:"severity" json:"severity"`
	Condition            JSONMap    `db:"condition" json:"condition"`
	NotificationChannels StringList `db:"notification_channels" json:"notification_channels"`
	NotificationConfig   JSONMap    `db:"notification_config" json:"notification_config,omitempty"`
	CooldownMinutes      int        `db:"cooldown_minutes" json:"cooldown_minutes"`
	Enabled              bool       `db:"is_enabled" json:"is_enabled"`
	CreatedBy            string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	LastTriggeredAt      *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// InCooldown reports whether the rule fired within its cooldown window.
// Firing exactly at the boundary (elapsed == cooldown) is allowed.
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil || r.CooldownMinutes <= 0 {
		return false
	}
	return now.Sub(*r.LastTriggeredAt) < r.Cooldown()
}
