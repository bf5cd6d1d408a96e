package models

import (
	"strings"
	"time"
)

// RegulatoryEvent is an immutable regulatory change fetched from the
// upstream monitor.
type RegulatoryEvent struct {
	EventID          string    `json:"event_id"`
	ChangeID         string    `json:"change_id"`
	SourceName       string    `json:"source_name"`
	Title            string    `json:"regulation_title"`
	Type             string    `json:"change_type"`
	Description      string    `json:"change_description,omitempty"`
	Severity         string    `json:"severity"`
	EffectiveDate    string    `json:"effective_date,omitempty"`
	ImpactAssessment string    `json:"impact_assessment,omitempty"`
	Entities         JSONMap   `json:"extracted_entities,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// SubscriptionFilter selects which regulatory events a subscriber receives.
// Empty lists match everything; non-empty lists are OR within a field and
// AND across fields. Source matching is substring, the rest are exact.
type SubscriptionFilter struct {
	Sources       []string `json:"sources,omitempty"`
	Types         []string `json:"types,omitempty"`
	Severities    []string `json:"severities,omitempty"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f SubscriptionFilter) Matches(e *RegulatoryEvent) bool {
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if strings.Contains(e.SourceName, s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Types) > 0 && !containsString(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsString(f.Severities, e.Severity) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
