package models

import "time"

// SessionState is the lifecycle state of a collaboration session.
type SessionState string

// Session states. Terminal states are completed, cancelled, and timeout.
const (
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
	SessionTimeout   SessionState = "timeout"
)

// Terminal reports whether the state is terminal.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionTimeout:
		return true
	}
	return false
}

// Role is a human user's permission level.
type Role string

// User roles, broadest to narrowest.
const (
	RoleAdministrator Role = "administrator"
	RoleSupervisor    Role = "supervisor"
	RoleOperator      Role = "operator"
	RoleAnalyst       Role = "analyst"
	RoleViewer        Role = "viewer"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdministrator, RoleSupervisor, RoleOperator, RoleAnalyst, RoleViewer:
		return true
	}
	return false
}

// HumanUser is a registry entry for an operator or analyst.
type HumanUser struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"name,omitempty"`
	Role          Role      `json:"role"`
	AllowedAgents []string  `json:"allowed_agents,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// AuthorizedFor reports whether the user may act on the given agent.
// An empty AllowedAgents list authorizes all agents.
func (u *HumanUser) AuthorizedFor(agentID string) bool {
	if len(u.AllowedAgents) == 0 {
		return true
	}
	return containsString(u.AllowedAgents, agentID)
}

// SessionMessage is a single message within a collaboration session.
type SessionMessage struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"` // user_id or agent_id
	Role      string    `json:"role"`   // "user" or "agent"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionFeedback is a rating or comment a user attaches to a session.
type SessionFeedback struct {
	FeedbackID string    `json:"feedback_id"`
	UserID     string    `json:"user_id"`
	Rating     int       `json:"rating"` // 1..5
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionIntervention records a supervisor overriding or steering an agent.
type SessionIntervention struct {
	InterventionID string    `json:"intervention_id"`
	UserID         string    `json:"user_id"`
	Action         string    `json:"action"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// CollaborationSession is a stateful, user-scoped conversation with one agent.
type CollaborationSession struct {
	SessionID     string                `json:"session_id"`
	UserID        string                `json:"user_id"`
	AgentID       string                `json:"agent_id"`
	Title         string                `json:"title,omitempty"`
	State         SessionState          `json:"state"`
	Messages      []SessionMessage      `json:"messages"`
	Feedback      []SessionFeedback     `json:"feedback,omitempty"`
	Interventions []SessionIntervention `json:"interventions,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	LastActivity  time.Time             `json:"last_activity"`
	EndedAt       *time.Time            `json:"ended_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers while the original
// keeps mutating under the manager's lock.
func (s *CollaborationSession) Clone() *CollaborationSession {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Messages != nil {
		clone.Messages = make([]SessionMessage, len(s.Messages))
		copy(clone.Messages, s.Messages)
	}
	if s.Feedback != nil {
		clone.Feedback = make([]SessionFeedback, len(s.Feedback))
		copy(clone.Feedback, s.Feedback)
	}
	if s.Interventions != nil {
		clone.Interventions = make([]SessionIntervention, len(s.Interventions))
		copy(clone.Interventions, s.Interventions)
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		clone.EndedAt = &ended
	}
	return &clone
}

// AssistanceRequest is a short-lived, operator-answerable question raised
// by an agent.
type AssistanceRequest struct {
	RequestID   string     `json:"request_id"`
	AgentID     string     `json:"agent_id"`
	Kind        string     `json:"kind"`
	Payload     JSONMap    `json:"payload,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Response    *string    `json:"response,omitempty"`
	RespondedBy *string    `json:"responded_by,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Expired reports whether the request's TTL has elapsed.
func (r *AssistanceRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Clone returns a deep copy of the request.
func (r *AssistanceRequest) Clone() *AssistanceRequest {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Payload != nil {
		clone.Payload = make(JSONMap, len(r.Payload))
		for k, v := range r.Payload {
			clone.Payload[k] = v
		}
	}
	if r.Response != nil {
		resp := *r.Response
		clone.Response = &resp
	}
	if r.RespondedBy != nil {
		by := *r.RespondedBy
		clone.RespondedBy = &by
	}
	if r.RespondedAt != nil {
		at := *r.RespondedAt
		clone.RespondedAt = &at
	}
	return &clone
}
