package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/activity"
	"github.com/compliance-ops/regfabric/pkg/collab"
	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// testServer wires only the in-memory services; DB-backed routes are
// covered by the database integration tests.
func testServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()
	logger := slog.Default()
	feed := activity.NewFeed(config.DefaultActivityConfig(), nil, logger)
	manager := collab.NewManager(config.DefaultCollabConfig(), nil, logger)
	return NewServer(Deps{
		Feed:      feed,
		Stream:    activity.NewStreamHub(feed, logger),
		Collab:    manager,
		JWTSecret: jwtSecret,
	}, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := testServer(t, "")
	rec := doJSON(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestActivityEndpoints(t *testing.T) {
	s := testServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/activity/events", map[string]any{
		"agent_id":      "agent-1",
		"activity_type": "decision",
		"severity":      "high",
		"title":         "flagged wire transfer",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/activity/events", map[string]any{
		"activity_type": "decision",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/activity/events?agent_ids=agent-1&severities=high", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count  int                          `json:"count"`
		Events []*models.AgentActivityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "flagged wire transfer", body.Events[0].Title)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/activity/agents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/activity/agents/agent-1/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/activity/agents/nobody/stats", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/activity/export?format=csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
}

func TestCollabEndpoints(t *testing.T) {
	s := testServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/collab/users", map[string]any{
		"user_id": "op-1",
		"role":    "operator",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	// Identical re-registration is a no-op; a changed profile conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/users", map[string]any{
		"user_id": "op-1",
		"role":    "operator",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/users", map[string]any{
		"user_id": "op-1",
		"role":    "supervisor",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/sessions", map[string]any{
		"user_id":  "op-1",
		"agent_id": "agent-1",
		"title":    "case review",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var session models.CollaborationSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/sessions/"+session.SessionID+"/messages", map[string]any{
		"sender":  "op-1",
		"role":    "user",
		"content": "please review case 42",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/sessions/"+session.SessionID+"/end", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Ended sessions are gone from the active set.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/sessions/"+session.SessionID+"/end", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, s, http.MethodGet, "/api/v1/collab/sessions/"+session.SessionID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/collab/sessions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/requests", map[string]any{
		"agent_id": "agent-1",
		"kind":     "approval",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var request models.AssistanceRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &request))

	// The pending list filters by agent.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/collab/requests?agent_id=agent-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, 1, pending.Count)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/collab/requests?agent_id=agent-2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, 0, pending.Count)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/requests/"+request.RequestID+"/respond", map[string]any{
		"user_id":  "op-1",
		"response": "approved",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Answered requests cannot be answered again.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/collab/requests/"+request.RequestID+"/respond", map[string]any{
		"user_id":  "op-1",
		"response": "again",
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	s := testServer(t, secret)

	t.Run("missing token rejected", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/activity/agents", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/activity/agents", nil, "not.a.jwt")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "op-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)

		rec := doJSON(t, s, http.MethodGet, "/api/v1/activity/agents", nil, signed)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "op-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)

		rec := doJSON(t, s, http.MethodGet, "/api/v1/activity/agents", nil, signed)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/health", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
