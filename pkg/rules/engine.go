// Package rules implements the rule evaluation engine: periodic evaluation
// of operator-defined alert rules against live metrics, incident creation,
// and notification fan-out.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// Notifier receives incidents the engine fires. The notification service
// implements it; the engine only knows the interface.
type Notifier interface {
	EnqueueIncident(ctx context.Context, incident *models.AlertIncident, channelIDs []string) error
}

// EvaluationStats summarizes one evaluation pass.
type EvaluationStats struct {
	RulesEvaluated  int           `json:"rules_evaluated"`
	AlertsTriggered int           `json:"alerts_triggered"`
	CooldownSkips   int           `json:"cooldown_skips"`
	Errors          int           `json:"errors"`
	Duration        time.Duration `json:"duration"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// Engine periodically evaluates all enabled alert rules. One failing rule
// never blocks the rest of the pass.
type Engine struct {
	log      *slog.Logger
	cfg      *config.EngineConfig
	store    *Store
	data     DataSource
	notifier Notifier
	metrics  *metrics.Registry
	gron     *gronx.Gronx

	triggerCh chan chan EvaluationStats
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once

	mu   sync.RWMutex
	last EvaluationStats
}

// NewEngine creates a rule evaluation engine. The notifier may be nil, in
// which case fired incidents are persisted but not dispatched.
func NewEngine(cfg *config.EngineConfig, store *Store, data DataSource, notifier Notifier, m *metrics.Registry, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	return &Engine{
		log:       logger.With("component", "rule_engine"),
		cfg:       cfg,
		store:     store,
		data:      data,
		notifier:  notifier,
		metrics:   m,
		gron:      gronx.New(),
		triggerCh: make(chan chan EvaluationStats, 4),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the evaluation loop. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.log.Info("Starting rule evaluation engine",
		"interval", e.cfg.EvaluationInterval,
		"anomaly_window", e.cfg.AnomalyWindow)
	go e.run(ctx)
}

// Stop terminates the evaluation loop and waits for the in-flight pass.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	<-e.doneCh
	e.log.Info("Rule evaluation engine stopped")
}

// TriggerEvaluation runs a pass immediately and returns its stats. It is
// used by the API's manual-evaluation endpoint.
func (e *Engine) TriggerEvaluation(ctx context.Context) (EvaluationStats, error) {
	reply := make(chan EvaluationStats, 1)
	select {
	case e.triggerCh <- reply:
	case <-e.stopCh:
		return EvaluationStats{}, fmt.Errorf("rule engine is stopped")
	case <-ctx.Done():
		return EvaluationStats{}, ctx.Err()
	}

	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return EvaluationStats{}, ctx.Err()
	}
}

// LastStats returns the most recent pass's stats.
func (e *Engine) LastStats() EvaluationStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.evaluatePass(ctx)
		case reply := <-e.triggerCh:
			reply <- e.evaluatePass(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// evaluatePass evaluates every enabled rule once.
func (e *Engine) evaluatePass(ctx context.Context) EvaluationStats {
	start := time.Now()
	stats := EvaluationStats{}

	ruleList, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		e.log.Error("Failed to load enabled rules", "error", err)
		stats.Errors++
		return e.finishPass(stats, start)
	}

	for _, rule := range ruleList {
		select {
		case <-e.stopCh:
			return e.finishPass(stats, start)
		case <-ctx.Done():
			return e.finishPass(stats, start)
		default:
		}

		stats.RulesEvaluated++
		fired, err := e.evaluateRule(ctx, rule, start)
		if err != nil {
			stats.Errors++
			if e.metrics != nil {
				e.metrics.EvaluationErrors.Inc()
			}
			e.log.Error("Rule evaluation failed",
				"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
			continue
		}
		switch fired {
		case fireTriggered:
			stats.AlertsTriggered++
		case fireCooldown:
			stats.CooldownSkips++
		}
	}

	return e.finishPass(stats, start)
}

func (e *Engine) finishPass(stats EvaluationStats, start time.Time) EvaluationStats {
	stats.Duration = time.Since(start)
	stats.CompletedAt = time.Now()

	e.mu.Lock()
	e.last = stats
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.EvaluationPasses.Inc()
		e.metrics.RulesEvaluated.Add(float64(stats.RulesEvaluated))
		e.metrics.EvaluationSeconds.Set(stats.Duration.Seconds())
	}

	e.log.Debug("Evaluation pass complete",
		"rules", stats.RulesEvaluated,
		"triggered", stats.AlertsTriggered,
		"cooldown_skips", stats.CooldownSkips,
		"errors", stats.Errors,
		"duration", stats.Duration)
	return stats
}

type fireOutcome int

const (
	fireNone fireOutcome = iota
	fireTriggered
	fireCooldown
)

// evaluateRule runs one rule and, if its condition holds, records an
// incident and fans it out. Rules inside their cooldown window are skipped
// before any condition work runs.
func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, now time.Time) (fireOutcome, error) {
	if rule.InCooldown(now) {
		e.log.Debug("Rule in cooldown, skipping",
			"rule_id", rule.ID, "last_triggered_at", rule.LastTriggeredAt)
		return fireCooldown, nil
	}

	cond, err := parseCondition(rule.Condition)
	if err != nil {
		return fireNone, err
	}

	var result EvalResult
	switch rule.Type {
	case models.RuleTypeThreshold:
		result, err = e.evaluateThreshold(ctx, rule, cond)
	case models.RuleTypePattern:
		result, err = e.evaluatePattern(ctx, rule, cond)
	case models.RuleTypeAnomaly:
		result, err = e.evaluateAnomaly(ctx, rule, cond)
	case models.RuleTypeScheduled:
		result, err = e.evaluateScheduled(ctx, rule, cond, now)
	default:
		return fireNone, fmt.Errorf("unknown rule type %q", rule.Type)
	}
	if err != nil {
		return fireNone, err
	}
	if !result.Fired {
		return fireNone, nil
	}

	incident := &models.AlertIncident{
		RuleID:   rule.ID,
		Severity: rule.Severity,
		Title:    rule.Name,
		Message:  result.Detail,
		Data:     result.Data,
		Status:   models.IncidentActive,
	}
	if err := e.store.CreateIncident(ctx, incident); err != nil {
		return fireNone, fmt.Errorf("failed to record incident: %w", err)
	}
	if err := e.store.MarkTriggered(ctx, rule.ID, incident.TriggeredAt); err != nil {
		return fireNone, err
	}

	if e.metrics != nil {
		e.metrics.AlertsTriggered.Inc()
	}
	e.log.Info("Alert triggered",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"incident_id", incident.ID,
		"severity", incident.Severity)

	if e.notifier != nil && len(rule.NotificationChannels) > 0 {
		if err := e.notifier.EnqueueIncident(ctx, incident, rule.NotificationChannels); err != nil {
			// Delivery failures are the notification service's concern;
			// the incident itself is already persisted.
			e.log.Error("Failed to enqueue notifications",
				"incident_id", incident.ID, "error", err)
		}
	}

	return fireTriggered, nil
}
