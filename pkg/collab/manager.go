// Package collab implements the collaboration session manager: user-scoped
// conversations with agents, role-gated feedback and interventions, and
// short-lived agent assistance requests.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// Sentinel errors for collaboration operations.
var (
	ErrUserNotFound    = errors.New("user not registered")
	ErrUserConflict    = errors.New("user already registered with a different profile")
	ErrSessionNotFound = errors.New("collaboration session not found")
	ErrNotAuthorized   = errors.New("user is not authorized for this action")
	ErrSessionLimit    = errors.New("active session limit reached for user")
	ErrMessageLimit    = errors.New("session message limit reached")
	ErrRequestNotFound = errors.New("assistance request not found")
	ErrRequestExpired  = errors.New("assistance request has expired")
	ErrRequestLimit    = errors.New("active assistance request limit reached")
	ErrBadRating       = errors.New("feedback rating must be between 1 and 5")
)

// Manager owns all collaboration state. Sessions live in memory; when a
// store is configured every mutation is written through so sessions survive
// restarts.
type Manager struct {
	log   *slog.Logger
	cfg   *config.CollabConfig
	store *SessionStore

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	users    map[string]*models.HumanUser
	sessions map[string]*models.CollaborationSession
	requests map[string]*models.AssistanceRequest
}

// NewManager creates a session manager. The store may be nil when
// persistence is disabled.
func NewManager(cfg *config.CollabConfig, store *SessionStore, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultCollabConfig()
	}
	return &Manager{
		log:      logger.With("component", "collab_manager"),
		cfg:      cfg,
		store:    store,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		users:    map[string]*models.HumanUser{},
		sessions: map[string]*models.CollaborationSession{},
		requests: map[string]*models.AssistanceRequest{},
	}
}

// Start restores persisted sessions and launches the cleanup loop.
func (m *Manager) Start(ctx context.Context) error {
	if m.store != nil {
		restored, err := m.store.LoadOpen(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore sessions: %w", err)
		}
		m.mu.Lock()
		for _, s := range restored {
			m.sessions[s.SessionID] = s
		}
		m.mu.Unlock()
		if len(restored) > 0 {
			m.log.Info("Restored collaboration sessions", "count", len(restored))
		}
	}

	m.log.Info("Starting collaboration manager",
		"max_sessions_per_user", m.cfg.MaxSessionsPerUser,
		"session_timeout", m.cfg.SessionTimeout,
		"persistence", m.store != nil)
	go m.cleanupLoop(ctx)
	return nil
}

// Stop terminates the cleanup loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
	m.log.Info("Collaboration manager stopped")
}

// RegisterUser adds a user registry entry. Registering the same id again
// with an identical profile is a no-op returning the existing entry; a
// different profile under an existing id is rejected.
func (m *Manager) RegisterUser(user models.HumanUser) (*models.HumanUser, error) {
	if user.UserID == "" {
		return nil, fmt.Errorf("user_id must not be empty")
	}
	if !models.ValidRole(user.Role) {
		return nil, fmt.Errorf("unknown role %q", user.Role)
	}
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = time.Now()
	}

	m.mu.Lock()
	if existing, ok := m.users[user.UserID]; ok {
		same := existing.Name == user.Name &&
			existing.Role == user.Role &&
			sameAgents(existing.AllowedAgents, user.AllowedAgents)
		out := *existing
		m.mu.Unlock()
		if !same {
			return nil, ErrUserConflict
		}
		return &out, nil
	}
	m.users[user.UserID] = &user
	m.mu.Unlock()

	m.log.Info("User registered", "user_id", user.UserID, "role", user.Role)
	return &user, nil
}

func sameAgents(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetUser returns a registry entry.
func (m *Manager) GetUser(userID string) (*models.HumanUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers returns all registered users sorted by id.
func (m *Manager) ListUsers() []*models.HumanUser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.HumanUser, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// authorize resolves the user and checks role and agent scope. When auth is
// disabled, unknown users act as operators over all agents.
func (m *Manager) authorize(userID, agentID string, action Action) (*models.HumanUser, error) {
	m.mu.RLock()
	user, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok {
		if m.cfg.RequireAuth {
			return nil, ErrUserNotFound
		}
		return &models.HumanUser{UserID: userID, Role: models.RoleOperator}, nil
	}
	if !Allowed(user.Role, action) {
		return nil, ErrNotAuthorized
	}
	if agentID != "" && !user.AuthorizedFor(agentID) {
		return nil, ErrNotAuthorized
	}
	return user, nil
}

// StartSession opens a new active session between a user and an agent.
func (m *Manager) StartSession(ctx context.Context, userID, agentID, title string) (*models.CollaborationSession, error) {
	if _, err := m.authorize(userID, agentID, ActionMessage); err != nil {
		return nil, err
	}

	m.mu.Lock()
	active := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			active++
		}
	}
	if active >= m.cfg.MaxSessionsPerUser {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}

	now := time.Now()
	session := &models.CollaborationSession{
		SessionID:    uuid.New().String(),
		UserID:       userID,
		AgentID:      agentID,
		Title:        title,
		State:        models.SessionActive,
		Messages:     []models.SessionMessage{},
		CreatedAt:    now,
		LastActivity: now,
	}
	m.sessions[session.SessionID] = session
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.log.Info("Session started",
		"session_id", session.SessionID, "user_id", userID, "agent_id", agentID)
	return snapshot, nil
}

// GetSession returns a copy of an active session by id.
func (m *Manager) GetSession(sessionID string) (*models.CollaborationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ListSessions returns copies of a user's sessions, most recently active
// first. An empty userID lists all sessions.
func (m *Manager) ListSessions(userID string) []*models.CollaborationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.CollaborationSession{}
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// PostMessage appends a message to an active session. senderRole is "user"
// or "agent"; user senders must hold the message permission.
func (m *Manager) PostMessage(ctx context.Context, sessionID, sender, senderRole, content string) (*models.SessionMessage, error) {
	if senderRole == "user" {
		if _, err := m.authorize(sender, "", ActionMessage); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.State == models.SessionPaused {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s is paused", sessionID)
	}
	if len(session.Messages) >= m.cfg.MaxMessagesPerSession {
		m.mu.Unlock()
		return nil, ErrMessageLimit
	}

	msg := models.SessionMessage{
		MessageID: uuid.New().String(),
		Sender:    sender,
		Role:      senderRole,
		Content:   content,
		Timestamp: time.Now(),
	}
	session.Messages = append(session.Messages, msg)
	session.LastActivity = msg.Timestamp
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	return &msg, nil
}

// PauseSession suspends an active session.
func (m *Manager) PauseSession(ctx context.Context, sessionID string) error {
	return m.setState(ctx, sessionID, models.SessionActive, models.SessionPaused)
}

// ResumeSession reactivates a paused session.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) error {
	return m.setState(ctx, sessionID, models.SessionPaused, models.SessionActive)
}

func (m *Manager) setState(ctx context.Context, sessionID string, from, to models.SessionState) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.State != from {
		state := session.State
		m.mu.Unlock()
		return fmt.Errorf("session %s is %s, not %s", sessionID, state, from)
	}
	session.State = to
	session.LastActivity = time.Now()
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	return nil
}

// EndSession moves a session to completed or cancelled and removes it from
// the active map. The final state is written through to the store, so the
// session remains queryable from history when persistence is enabled.
func (m *Manager) EndSession(ctx context.Context, sessionID string, cancelled bool) error {
	target := models.SessionCompleted
	if cancelled {
		target = models.SessionCancelled
	}

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	now := time.Now()
	session.State = target
	session.EndedAt = &now
	session.LastActivity = now
	delete(m.sessions, sessionID)
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.log.Info("Session ended", "session_id", sessionID, "state", target)
	return nil
}

// AddFeedback attaches a rating to an open session.
func (m *Manager) AddFeedback(ctx context.Context, sessionID, userID string, rating int, comment string) (*models.SessionFeedback, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrBadRating
	}
	if _, err := m.authorize(userID, "", ActionFeedback); err != nil {
		return nil, err
	}

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	fb := models.SessionFeedback{
		FeedbackID: uuid.New().String(),
		UserID:     userID,
		Rating:     rating,
		Comment:    comment,
		Timestamp:  time.Now(),
	}
	session.Feedback = append(session.Feedback, fb)
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	return &fb, nil
}

// Intervene records a supervisor override on an open session.
func (m *Manager) Intervene(ctx context.Context, sessionID, userID, action, reason string) (*models.SessionIntervention, error) {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if _, err := m.authorize(userID, session.AgentID, ActionIntervene); err != nil {
		return nil, err
	}

	m.mu.Lock()
	// The session may have ended while authorization ran unlocked.
	session, ok = m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	iv := models.SessionIntervention{
		InterventionID: uuid.New().String(),
		UserID:         userID,
		Action:         action,
		Reason:         reason,
		Timestamp:      time.Now(),
	}
	session.Interventions = append(session.Interventions, iv)
	session.LastActivity = iv.Timestamp
	snapshot := session.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.log.Info("Intervention recorded",
		"session_id", sessionID, "user_id", userID, "action", action)
	return &iv, nil
}

// RaiseRequest files an assistance request on behalf of an agent.
func (m *Manager) RaiseRequest(agentID, kind string, payload models.JSONMap) (*models.AssistanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	now := time.Now()
	for _, r := range m.requests {
		if !r.Expired(now) {
			active++
		}
	}
	if active >= m.cfg.MaxActiveRequests {
		return nil, ErrRequestLimit
	}

	req := &models.AssistanceRequest{
		RequestID: uuid.New().String(),
		AgentID:   agentID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.RequestTimeout),
	}
	m.requests[req.RequestID] = req
	m.log.Info("Assistance request raised",
		"request_id", req.RequestID, "agent_id", agentID, "kind", kind)
	return req.Clone(), nil
}

// RespondToRequest answers a pending assistance request and removes it from
// the pending set. Answering again reports the request as not found.
func (m *Manager) RespondToRequest(requestID, userID, response string) (*models.AssistanceRequest, error) {
	m.mu.Lock()
	req, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRequestNotFound
	}
	if req.Expired(time.Now()) {
		delete(m.requests, requestID)
		m.mu.Unlock()
		return nil, ErrRequestExpired
	}
	agentID := req.AgentID
	m.mu.Unlock()

	if _, err := m.authorize(userID, agentID, ActionMessage); err != nil {
		return nil, err
	}

	m.mu.Lock()
	req, ok = m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRequestNotFound
	}
	now := time.Now()
	req.Response = &response
	req.RespondedBy = &userID
	req.RespondedAt = &now
	delete(m.requests, requestID)
	out := req.Clone()
	m.mu.Unlock()

	m.log.Info("Assistance request answered",
		"request_id", requestID, "user_id", userID)
	return out, nil
}

// PendingRequests returns unanswered requests oldest first, scoped to one
// agent when agentID is set. Requests found expired are dropped on the way.
func (m *Manager) PendingRequests(agentID string) []*models.AssistanceRequest {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.AssistanceRequest{}
	for id, r := range m.requests {
		if r.Expired(now) {
			delete(m.requests, id)
			continue
		}
		if agentID == "" || r.AgentID == agentID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx, time.Now())
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep times out idle sessions, removing them from the active map, and
// drops expired requests.
func (m *Manager) sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-m.cfg.SessionTimeout)

	var timedOut []*models.CollaborationSession
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			s.State = models.SessionTimeout
			ended := now
			s.EndedAt = &ended
			delete(m.sessions, id)
			timedOut = append(timedOut, s.Clone())
		}
	}
	expired := 0
	for id, r := range m.requests {
		if r.Expired(now) {
			delete(m.requests, id)
			expired++
		}
	}
	m.mu.Unlock()

	for _, s := range timedOut {
		m.persist(ctx, s)
		m.log.Info("Session timed out", "session_id", s.SessionID)
	}
	if expired > 0 {
		m.log.Debug("Dropped expired assistance requests", "count", expired)
	}
}

func (m *Manager) persist(ctx context.Context, session *models.CollaborationSession) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, session); err != nil {
		m.log.Error("Failed to persist session",
			"session_id", session.SessionID, "error", err)
	}
}
