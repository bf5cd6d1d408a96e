// Package regmonitor implements the regulatory event subscriber: a polling
// client for the upstream regulatory monitor that deduplicates changes and
// fans them out to filtered in-process subscribers.
package regmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// EventCallback receives matching regulatory events. Callbacks run on the
// polling goroutine; slow callbacks delay the next poll.
type EventCallback func(ctx context.Context, event *models.RegulatoryEvent)

// dedupLimit bounds the seen-change-id set.
const dedupLimit = 10000

// subscriber pairs a filter with its callback.
type subscriber struct {
	name     string
	filter   models.SubscriptionFilter
	callback EventCallback
}

// Stats summarizes the subscriber's progress.
type Stats struct {
	EventsProcessed     int64      `json:"events_processed"`
	EventsNotified      int64      `json:"events_notified"`
	DuplicatesSkipped   int64      `json:"duplicates_skipped"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastEventID         string     `json:"last_event_id,omitempty"`
	LastPollAt          *time.Time `json:"last_poll_at,omitempty"`
	Subscribers         int        `json:"subscribers"`
}

// Subscriber polls the upstream monitor and dispatches new events.
type Subscriber struct {
	log     *slog.Logger
	cfg     *config.MonitorConfig
	client  *http.Client
	store   *SubscriptionStore
	metrics *metrics.Registry

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	seen        map[string]struct{}
	seenOrder   []string
	stats       Stats
}

// NewSubscriber creates a regulatory event subscriber. The store may be nil
// when subscription persistence is not wanted.
func NewSubscriber(cfg *config.MonitorConfig, store *SubscriptionStore, m *metrics.Registry, logger *slog.Logger) *Subscriber {
	if cfg == nil {
		cfg = config.DefaultMonitorConfig()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	return &Subscriber{
		log:         logger.With("component", "regulatory_subscriber"),
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		store:       store,
		metrics:     m,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		subscribers: map[string]*subscriber{},
		seen:        map[string]struct{}{},
	}
}

// Subscribe registers a callback under a name, replacing any previous
// registration with that name. When a store is configured the filter is
// persisted so the registration survives restarts.
func (s *Subscriber) Subscribe(ctx context.Context, name string, filter models.SubscriptionFilter, cb EventCallback) error {
	if name == "" {
		return fmt.Errorf("subscriber name must not be empty")
	}
	if cb == nil {
		return fmt.Errorf("subscriber %q has a nil callback", name)
	}

	if s.store != nil {
		if _, err := s.store.Save(ctx, name, filter); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.subscribers[name] = &subscriber{name: name, filter: filter, callback: cb}
	s.stats.Subscribers = len(s.subscribers)
	s.mu.Unlock()

	s.log.Info("Subscriber registered", "name", name)
	return nil
}

// Unsubscribe removes a registration by name.
func (s *Subscriber) Unsubscribe(ctx context.Context, name string) error {
	s.mu.Lock()
	_, exists := s.subscribers[name]
	delete(s.subscribers, name)
	s.stats.Subscribers = len(s.subscribers)
	s.mu.Unlock()

	if s.store != nil && exists {
		if err := s.store.Delete(ctx, name); err != nil && err != ErrSubscriptionNotFound {
			return err
		}
	}
	if !exists {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Start launches the polling loop.
func (s *Subscriber) Start(ctx context.Context) {
	s.log.Info("Starting regulatory subscriber",
		"monitor_url", s.cfg.MonitorURL,
		"poll_interval", s.cfg.PollInterval)
	go s.run(ctx)
}

// Stop terminates the polling loop and waits for the in-flight poll.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	s.log.Info("Regulatory subscriber stopped")
}

// GetStats returns a snapshot of subscriber progress.
func (s *Subscriber) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		delay := s.pollOnce(ctx)

		select {
		case <-time.After(delay):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce fetches new changes and returns the delay before the next poll,
// stretched by backoff after repeated failures.
func (s *Subscriber) pollOnce(ctx context.Context) time.Duration {
	now := time.Now()
	events, err := s.fetchChanges(ctx)

	s.mu.Lock()
	s.stats.LastPollAt = &now
	if err != nil {
		s.stats.ConsecutiveFailures++
		failures := s.stats.ConsecutiveFailures
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.PollFailures.Inc()
		}
		delay := backoffDelay(s.cfg.PollInterval, failures)
		s.log.Warn("Poll failed",
			"consecutive_failures", failures,
			"next_poll_in", delay,
			"error", err)
		return delay
	}
	if s.stats.ConsecutiveFailures > 0 {
		s.log.Info("Poll recovered", "after_failures", s.stats.ConsecutiveFailures)
	}
	s.stats.ConsecutiveFailures = 0
	s.mu.Unlock()

	for _, event := range events {
		s.dispatch(ctx, event)
	}
	return s.cfg.PollInterval
}

// backoffDelay computes the inter-poll delay under failure. The first three
// failures keep the base interval; after that the delay doubles from 20s up
// to a 300s ceiling.
func backoffDelay(base time.Duration, failures int) time.Duration {
	if failures <= 3 {
		return base
	}
	shift := failures - 3
	if shift > 5 {
		shift = 5
	}
	backoff := 10 * time.Second << uint(shift)
	if backoff > 300*time.Second {
		backoff = 300 * time.Second
	}
	if backoff < base {
		return base
	}
	return backoff
}

// changeID decodes the monitor's change identifier, which some sources emit
// as a JSON string and others as a raw number.
type changeID string

func (c *changeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = changeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("change_id must be a string or number: %w", err)
	}
	*c = changeID(n.String())
	return nil
}

// fetchChanges calls the monitor's changes endpoint. The since_id cursor is
// sent only once a previous poll established one.
func (s *Subscriber) fetchChanges(ctx context.Context) ([]*models.RegulatoryEvent, error) {
	s.mu.RLock()
	sinceID := s.stats.LastEventID
	s.mu.RUnlock()

	endpoint, err := url.JoinPath(s.cfg.MonitorURL, "/api/regulatory/monitor/changes")
	if err != nil {
		return nil, fmt.Errorf("invalid monitor url: %w", err)
	}
	if sinceID != "" {
		endpoint += "?since_id=" + url.QueryEscape(sinceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor poll failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("monitor returned %d: %s", resp.StatusCode, snippet)
	}

	var changes []struct {
		ChangeID         changeID       `json:"change_id"`
		SourceName       string         `json:"source_name"`
		RegulationTitle  string         `json:"regulation_title"`
		ChangeType       string         `json:"change_type"`
		Description      string         `json:"change_description"`
		Severity         string         `json:"severity"`
		EffectiveDate    string         `json:"effective_date"`
		ImpactAssessment string         `json:"impact_assessment"`
		Entities         models.JSONMap `json:"extracted_entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return nil, fmt.Errorf("malformed monitor response: %w", err)
	}

	received := time.Now()
	out := make([]*models.RegulatoryEvent, 0, len(changes))
	for _, c := range changes {
		out = append(out, &models.RegulatoryEvent{
			EventID:          string(c.ChangeID),
			ChangeID:         string(c.ChangeID),
			SourceName:       c.SourceName,
			Title:            c.RegulationTitle,
			Type:             c.ChangeType,
			Description:      c.Description,
			Severity:         c.Severity,
			EffectiveDate:    c.EffectiveDate,
			ImpactAssessment: c.ImpactAssessment,
			Entities:         c.Entities,
			ReceivedAt:       received,
		})
	}

	// The cursor is the last change in the batch, in source order.
	if len(changes) > 0 {
		last := string(changes[len(changes)-1].ChangeID)
		s.mu.Lock()
		s.stats.LastEventID = last
		s.mu.Unlock()
	}
	return out, nil
}

// dispatch runs one event through dedup and every matching subscriber.
func (s *Subscriber) dispatch(ctx context.Context, event *models.RegulatoryEvent) {
	s.mu.Lock()
	if _, dup := s.seen[event.ChangeID]; dup {
		s.stats.DuplicatesSkipped++
		s.mu.Unlock()
		return
	}
	s.remember(event.ChangeID)
	s.stats.EventsProcessed++

	matched := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if sub.filter.Matches(event) {
			matched = append(matched, sub)
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.EventsProcessed.Inc()
	}
	s.log.Info("Regulatory event received",
		"change_id", event.ChangeID,
		"source", event.SourceName,
		"type", event.Type,
		"severity", event.Severity,
		"subscribers", len(matched))

	for _, sub := range matched {
		sub.callback(ctx, event)
		s.mu.Lock()
		s.stats.EventsNotified++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.EventsNotified.Inc()
		}
	}
}

// remember inserts a change id into the dedup set, evicting the oldest
// entry once the set is full. Caller holds s.mu.
func (s *Subscriber) remember(changeID string) {
	if len(s.seenOrder) >= dedupLimit {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
	s.seen[changeID] = struct{}{}
	s.seenOrder = append(s.seenOrder, changeID)
}
