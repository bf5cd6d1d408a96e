package models

import "time"

// IncidentStatus is the lifecycle state of an alert incident.
type IncidentStatus string

// Incident statuses. Transitions are monotonic:
// active → acknowledged → resolved; false_positive is reachable from
// active or acknowledged only.
const (
	IncidentActive        IncidentStatus = "active"
	IncidentAcknowledged  IncidentStatus = "acknowledged"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// AlertIncident is a concrete firing of a rule and the unit of work for
// notifications.
type AlertIncident struct {
	ID                 string         `db:"incident_id" json:"incident_id"`
	RuleID             string         `db:"rule_id" json:"rule_id"`
	Severity           Severity       `db:"severity" json:"severity"`
	Title              string         `db:"title" json:"title"`
	Message            string         `db:"message" json:"message"`
	Data               JSONMap        `db:"incident_data" json:"incident_data,omitempty"`
	Status             IncidentStatus `db:"status" json:"status"`
	TriggeredAt        time.Time      `db:"triggered_at" json:"triggered_at"`
	AcknowledgedAt     *time.Time     `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy     *string        `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedAt         *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy         *string        `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNotes    *string        `db:"resolution_notes" json:"resolution_notes,omitempty"`
	NotificationStatus JSONMap        `db:"notification_status" json:"notification_status,omitempty"`
}

// CanTransition reports whether the incident may move to the target status.
func (i *AlertIncident) CanTransition(to IncidentStatus) bool {
	switch to {
	case IncidentAcknowledged:
		return i.Status == IncidentActive
	case IncidentResolved:
		return i.Status == IncidentActive || i.Status == IncidentAcknowledged
	case IncidentFalsePositive:
		return i.Status == IncidentActive || i.Status == IncidentAcknowledged
	}
	return false
}
