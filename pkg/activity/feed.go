// Package activity implements the in-memory agent activity feed: bounded
// per-agent rings of immutable events, incremental per-agent statistics,
// filtered subscriptions, and age-based eviction.
package activity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// Callback receives events matching a subscription's filter. Callbacks run
// synchronously on the recording goroutine.
type Callback func(event *models.AgentActivityEvent)

type subscription struct {
	id       string
	filter   models.ActivityFilter
	callback Callback
}

// Feed is the activity store. All access is through the mutex; events are
// value-copied on the way in so callers cannot mutate stored history.
type Feed struct {
	log     *slog.Logger
	cfg     *config.ActivityConfig
	metrics *metrics.Registry

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// deliverMu serializes Record end to end, so subscribers see events in
	// the order they were enqueued. It is always taken before mu.
	deliverMu sync.Mutex

	mu            sync.RWMutex
	events        map[string][]*models.AgentActivityEvent
	stats         map[string]*models.AgentActivityStats
	subscriptions map[string]*subscription
}

// NewFeed creates an activity feed.
func NewFeed(cfg *config.ActivityConfig, m *metrics.Registry, logger *slog.Logger) *Feed {
	if cfg == nil {
		cfg = config.DefaultActivityConfig()
	}
	return &Feed{
		log:           logger.With("component", "activity_feed"),
		cfg:           cfg,
		metrics:       m,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		events:        map[string][]*models.AgentActivityEvent{},
		stats:         map[string]*models.AgentActivityStats{},
		subscriptions: map[string]*subscription{},
	}
}

// Start launches the eviction loop.
func (f *Feed) Start(ctx context.Context) {
	f.log.Info("Starting activity feed",
		"max_events_per_agent", f.cfg.MaxEventsPerAgent,
		"retention", f.cfg.RetentionWindow)
	go f.evictionLoop(ctx)
}

// Stop terminates the eviction loop.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
	})
	<-f.doneCh
	f.log.Info("Activity feed stopped")
}

// Record appends an event to its agent's ring, updates stats, and notifies
// matching subscribers. Missing id and timestamp are filled in. Callbacks
// must not call Record.
func (f *Feed) Record(event models.AgentActivityEvent) *models.AgentActivityEvent {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}
	stored := &event

	f.mu.Lock()
	ring := append(f.events[event.AgentID], stored)
	evicted := 0
	if len(ring) > f.cfg.MaxEventsPerAgent {
		evicted = len(ring) - f.cfg.MaxEventsPerAgent
		ring = ring[evicted:]
	}
	f.events[event.AgentID] = ring

	st, ok := f.stats[event.AgentID]
	if !ok {
		st = &models.AgentActivityStats{
			AgentID:    event.AgentID,
			ByType:     map[models.ActivityType]int{},
			BySeverity: map[models.Severity]int{},
		}
		f.stats[event.AgentID] = st
	}
	st.TotalEvents++
	st.ByType[event.ActivityType]++
	st.BySeverity[event.Severity]++
	st.LastSeen = event.Timestamp

	matched := make([]*subscription, 0, len(f.subscriptions))
	for _, sub := range f.subscriptions {
		if sub.filter.Matches(stored) {
			matched = append(matched, sub)
		}
	}
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.ActivityEvents.Inc()
		if evicted > 0 {
			f.metrics.ActivityEvicted.Add(float64(evicted))
		}
	}
	for _, sub := range matched {
		sub.callback(stored)
	}
	return stored
}

// Query returns matching events across all agents, newest first, capped at
// the filter's max_results or the configured default.
func (f *Feed) Query(filter models.ActivityFilter) []*models.AgentActivityEvent {
	limit := filter.MaxResults
	if limit <= 0 || limit > f.cfg.DefaultQueryLimit {
		limit = f.cfg.DefaultQueryLimit
	}

	f.mu.RLock()
	var out []*models.AgentActivityEvent
	for _, ring := range f.events {
		for _, e := range ring {
			if filter.Matches(e) {
				out = append(out, e)
			}
		}
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AgentStats returns the aggregate for one agent, or nil when the agent has
// never recorded an event.
func (f *Feed) AgentStats(agentID string) *models.AgentActivityStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.stats[agentID]
	if !ok {
		return nil
	}
	clone := &models.AgentActivityStats{
		AgentID:     st.AgentID,
		TotalEvents: st.TotalEvents,
		ByType:      make(map[models.ActivityType]int, len(st.ByType)),
		BySeverity:  make(map[models.Severity]int, len(st.BySeverity)),
		LastSeen:    st.LastSeen,
	}
	for k, v := range st.ByType {
		clone.ByType[k] = v
	}
	for k, v := range st.BySeverity {
		clone.BySeverity[k] = v
	}
	return clone
}

// Agents returns the ids of all agents with recorded activity.
func (f *Feed) Agents() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.events))
	for id := range f.events {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers a filtered callback and returns the subscription id.
func (f *Feed) Subscribe(filter models.ActivityFilter, cb Callback) string {
	id := uuid.New().String()
	f.mu.Lock()
	f.subscriptions[id] = &subscription{id: id, filter: filter, callback: cb}
	f.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	delete(f.subscriptions, id)
	f.mu.Unlock()
}

func (f *Feed) evictionLoop(ctx context.Context) {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.evictExpired(time.Now())
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// evictExpired drops events older than the retention window. Stats are
// cumulative and deliberately unaffected by eviction.
func (f *Feed) evictExpired(now time.Time) {
	cutoff := now.Add(-f.cfg.RetentionWindow)
	evicted := 0

	f.mu.Lock()
	for agentID, ring := range f.events {
		// Rings are append-only in time order, so the first fresh event
		// marks the cut point.
		idx := 0
		for idx < len(ring) && ring[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx == 0 {
			continue
		}
		evicted += idx
		if idx == len(ring) {
			delete(f.events, agentID)
			continue
		}
		f.events[agentID] = ring[idx:]
	}
	f.mu.Unlock()

	if evicted > 0 {
		if f.metrics != nil {
			f.metrics.ActivityEvicted.Add(float64(evicted))
		}
		f.log.Debug("Evicted expired activity events", "count", evicted)
	}
}
