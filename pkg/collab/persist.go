package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// SessionStore writes sessions through to Postgres so open conversations
// survive a restart. Message, feedback, and intervention histories are
// stored as jsonb arrays on the session row.
type SessionStore struct {
	db *database.Client
}

// NewSessionStore creates a session store.
func NewSessionStore(db *database.Client) *SessionStore {
	return &SessionStore{db: db}
}

type sessionRow struct {
	SessionID     string     `db:"session_id"`
	UserID        string     `db:"user_id"`
	AgentID       string     `db:"agent_id"`
	Title         string     `db:"title"`
	State         string     `db:"state"`
	Messages      []byte     `db:"messages"`
	Feedback      []byte     `db:"feedback"`
	Interventions []byte     `db:"interventions"`
	CreatedAt     time.Time  `db:"created_at"`
	LastActivity  time.Time  `db:"last_activity"`
	EndedAt       *time.Time `db:"ended_at"`
}

// Save upserts the full session state.
func (s *SessionStore) Save(ctx context.Context, session *models.CollaborationSession) error {
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("failed to serialize messages: %w", err)
	}
	feedback, err := json.Marshal(session.Feedback)
	if err != nil {
		return fmt.Errorf("failed to serialize feedback: %w", err)
	}
	interventions, err := json.Marshal(session.Interventions)
	if err != nil {
		return fmt.Errorf("failed to serialize interventions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collab_sessions (
			session_id, user_id, agent_id, title, state, messages, feedback,
			interventions, created_at, last_activity, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			messages = EXCLUDED.messages,
			feedback = EXCLUDED.feedback,
			interventions = EXCLUDED.interventions,
			last_activity = EXCLUDED.last_activity,
			ended_at = EXCLUDED.ended_at`,
		session.SessionID, session.UserID, session.AgentID, session.Title,
		session.State, messages, feedback, interventions,
		session.CreatedAt, session.LastActivity, session.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadOpen returns all non-terminal sessions, for startup restoration.
func (s *SessionStore) LoadOpen(ctx context.Context) ([]*models.CollaborationSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM collab_sessions
		WHERE state IN ('active', 'paused')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load open sessions: %w", err)
	}

	out := make([]*models.CollaborationSession, 0, len(rows))
	for _, row := range rows {
		session := &models.CollaborationSession{
			SessionID:    row.SessionID,
			UserID:       row.UserID,
			AgentID:      row.AgentID,
			Title:        row.Title,
			State:        models.SessionState(row.State),
			CreatedAt:    row.CreatedAt,
			LastActivity: row.LastActivity,
			EndedAt:      row.EndedAt,
		}
		if err := json.Unmarshal(row.Messages, &session.Messages); err != nil {
			return nil, fmt.Errorf("corrupt messages for session %s: %w", row.SessionID, err)
		}
		if err := json.Unmarshal(row.Feedback, &session.Feedback); err != nil {
			return nil, fmt.Errorf("corrupt feedback for session %s: %w", row.SessionID, err)
		}
		if err := json.Unmarshal(row.Interventions, &session.Interventions); err != nil {
			return nil, fmt.Errorf("corrupt interventions for session %s: %w", row.SessionID, err)
		}
		out = append(out, session)
	}
	return out, nil
}

// Delete removes a session row.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collab_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
