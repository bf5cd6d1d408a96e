package models

import (
	"strings"
	"time"
)

// ActivityType classifies agent activity events.
type ActivityType string

// Activity types recorded by agents.
const (
	ActivityStartup       ActivityType = "startup"
	ActivityShutdown      ActivityType = "shutdown"
	ActivityDecision      ActivityType = "decision"
	ActivityScan          ActivityType = "scan"
	ActivityAlert         ActivityType = "alert"
	ActivityError         ActivityType = "error"
	ActivityConfigChange  ActivityType = "config_change"
	ActivityHumanOverride ActivityType = "human_override"
)

// AgentDecision captures the decision attached to a decision activity.
type AgentDecision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// AgentActivityEvent is an immutable record of something an agent did.
type AgentActivityEvent struct {
	EventID      string         `json:"event_id"`
	AgentID      string         `json:"agent_id"`
	ActivityType ActivityType   `json:"activity_type"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Metadata     JSONMap        `json:"metadata,omitempty"`
	Decision     *AgentDecision `json:"decision,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AgentActivityStats is the incrementally-maintained aggregate per agent.
type AgentActivityStats struct {
	AgentID     string               `json:"agent_id"`
	TotalEvents int                  `json:"total_events"`
	ByType      map[ActivityType]int `json:"by_type"`
	BySeverity  map[Severity]int     `json:"by_severity"`
	LastSeen    time.Time            `json:"last_seen"`
}

// ActivityFilter selects activity events for queries and subscriptions.
// Populated fields are ANDed; empty fields match everything.
type ActivityFilter struct {
	AgentIDs      []string       `json:"agent_ids,omitempty"`
	ActivityTypes []ActivityType `json:"activity_types,omitempty"`
	Severities    []Severity     `json:"severities,omitempty"`
	Since         *time.Time     `json:"since,omitempty"`
	Until         *time.Time     `json:"until,omitempty"`
	SearchText    string         `json:"search_text,omitempty"`
	MaxResults    int            `json:"max_results,omitempty"`
}

// Matches reports whether the event passes the filter. MaxResults is a
// query concern and is not evaluated here.
func (f ActivityFilter) Matches(e *AgentActivityEvent) bool {
	if len(f.AgentIDs) > 0 && !containsString(f.AgentIDs, e.AgentID) {
		return false
	}
	if len(f.ActivityTypes) > 0 {
		found := false
		for _, t := range f.ActivityTypes {
			if t == e.ActivityType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if s == e.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.SearchText != "" {
		needle := strings.ToLower(f.SearchText)
		if !strings.Contains(strings.ToLower(e.Title), needle) &&
			!strings.Contains(strings.ToLower(e.Description), needle) {
			return false
		}
	}
	return true
}
