package regmonitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/models"
)

type monitorChange struct {
	ChangeID        string `json:"change_id"`
	SourceName      string `json:"source_name"`
	RegulationTitle string `json:"regulation_title"`
	ChangeType      string `json:"change_type"`
	Severity        string `json:"severity"`
}

// fakeMonitor serves a fixed change array and records the since_id cursor
// from each poll. Requests without the parameter record an empty string.
type fakeMonitor struct {
	mu      sync.Mutex
	changes []monitorChange
	paths   []string
	cursors []string
}

func (f *fakeMonitor) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.cursors = append(f.cursors, r.URL.Query().Get("since_id"))
	changes := f.changes
	f.mu.Unlock()
	json.NewEncoder(w).Encode(changes)
}

func testSubscriber(t *testing.T, monitorURL string) *Subscriber {
	t.Helper()
	cfg := config.DefaultMonitorConfig()
	cfg.MonitorURL = monitorURL
	cfg.PollInterval = 10 * time.Millisecond
	return NewSubscriber(cfg, nil, nil, slog.Default())
}

func TestSubscriber_PollAndDispatch(t *testing.T) {
	monitor := &fakeMonitor{changes: []monitorChange{
		{ChangeID: "1", SourceName: "SEC EDGAR", RegulationTitle: "Rule 10b-5 update", ChangeType: "amendment", Severity: "high"},
		{ChangeID: "2", SourceName: "FINRA", RegulationTitle: "Reporting change", ChangeType: "new_rule", Severity: "low"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(monitor.handler))
	defer srv.Close()

	s := testSubscriber(t, srv.URL)
	var mu sync.Mutex
	var received []*models.RegulatoryEvent
	err := s.Subscribe(context.Background(), "audit-log", models.SubscriptionFilter{}, func(_ context.Context, e *models.RegulatoryEvent) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	delay := s.pollOnce(context.Background())
	assert.Equal(t, s.cfg.PollInterval, delay)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "SEC EDGAR", received[0].SourceName)
	assert.Equal(t, "1", received[0].ChangeID)

	stats := s.GetStats()
	assert.EqualValues(t, 2, stats.EventsProcessed)
	assert.EqualValues(t, 2, stats.EventsNotified)
	assert.Equal(t, "2", stats.LastEventID)
}

func TestSubscriber_CursorAdvances(t *testing.T) {
	monitor := &fakeMonitor{changes: []monitorChange{
		{ChangeID: "7", SourceName: "SEC", ChangeType: "amendment", Severity: "medium"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(monitor.handler))
	defer srv.Close()

	s := testSubscriber(t, srv.URL)
	s.pollOnce(context.Background())
	s.pollOnce(context.Background())

	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	require.Len(t, monitor.cursors, 2)
	assert.Equal(t, "/api/regulatory/monitor/changes", monitor.paths[0])
	// First poll has no cursor yet, so since_id is omitted.
	assert.Equal(t, "", monitor.cursors[0])
	assert.Equal(t, "7", monitor.cursors[1])
}

func TestSubscriber_NumericChangeIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"change_id": 41, "source_name": "SEC", "change_type": "amendment", "severity": "low"}]`))
	}))
	defer srv.Close()

	s := testSubscriber(t, srv.URL)
	var got []*models.RegulatoryEvent
	require.NoError(t, s.Subscribe(context.Background(), "n", models.SubscriptionFilter{}, func(_ context.Context, e *models.RegulatoryEvent) {
		got = append(got, e)
	}))

	s.pollOnce(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "41", got[0].ChangeID)
	assert.Equal(t, "41", s.GetStats().LastEventID)
}

func TestSubscriber_Dedup(t *testing.T) {
	monitor := &fakeMonitor{changes: []monitorChange{
		{ChangeID: "3", SourceName: "SEC", ChangeType: "amendment", Severity: "high"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(monitor.handler))
	defer srv.Close()

	s := testSubscriber(t, srv.URL)
	calls := 0
	require.NoError(t, s.Subscribe(context.Background(), "n", models.SubscriptionFilter{}, func(context.Context, *models.RegulatoryEvent) {
		calls++
	}))

	// Reset the cursor between polls so the monitor re-serves change 3;
	// dedup must still suppress the second dispatch.
	s.pollOnce(context.Background())
	s.mu.Lock()
	s.stats.LastEventID = ""
	s.mu.Unlock()
	s.pollOnce(context.Background())

	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, s.GetStats().DuplicatesSkipped)
}

func TestSubscriber_FilterFanout(t *testing.T) {
	monitor := &fakeMonitor{changes: []monitorChange{
		{ChangeID: "1", SourceName: "SEC EDGAR", ChangeType: "amendment", Severity: "critical"},
		{ChangeID: "2", SourceName: "FINRA", ChangeType: "guidance", Severity: "low"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(monitor.handler))
	defer srv.Close()

	s := testSubscriber(t, srv.URL)
	var secOnly, critical, all int
	ctx := context.Background()
	require.NoError(t, s.Subscribe(ctx, "sec", models.SubscriptionFilter{Sources: []string{"SEC"}}, func(context.Context, *models.RegulatoryEvent) { secOnly++ }))
	require.NoError(t, s.Subscribe(ctx, "crit", models.SubscriptionFilter{Severities: []string{"critical"}}, func(context.Context, *models.RegulatoryEvent) { critical++ }))
	require.NoError(t, s.Subscribe(ctx, "all", models.SubscriptionFilter{}, func(context.Context, *models.RegulatoryEvent) { all++ }))

	s.pollOnce(ctx)

	assert.Equal(t, 1, secOnly)
	assert.Equal(t, 1, critical)
	assert.Equal(t, 2, all)
}

func TestSubscriber_Unsubscribe(t *testing.T) {
	s := testSubscriber(t, "http://localhost:0")
	ctx := context.Background()
	require.NoError(t, s.Subscribe(ctx, "a", models.SubscriptionFilter{}, func(context.Context, *models.RegulatoryEvent) {}))
	require.NoError(t, s.Unsubscribe(ctx, "a"))
	assert.ErrorIs(t, s.Unsubscribe(ctx, "a"), ErrSubscriptionNotFound)
}

func TestSubscriber_PollFailureBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := testSubscriber(t, srv.URL)
	for i := 0; i < 3; i++ {
		delay := s.pollOnce(context.Background())
		assert.Equal(t, s.cfg.PollInterval, delay, "failure %d keeps base interval", i+1)
	}
	delay := s.pollOnce(context.Background())
	assert.Equal(t, 20*time.Second, delay)
	assert.Equal(t, 4, s.GetStats().ConsecutiveFailures)
}

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	assert.Equal(t, base, backoffDelay(base, 1))
	assert.Equal(t, base, backoffDelay(base, 3))
	assert.Equal(t, base, backoffDelay(base, 4))          // 20s backoff stays below base
	assert.Equal(t, 40*time.Second, backoffDelay(base, 5))
	assert.Equal(t, 80*time.Second, backoffDelay(base, 6))
	assert.Equal(t, 300*time.Second, backoffDelay(base, 8))
	assert.Equal(t, 300*time.Second, backoffDelay(base, 50))
}
