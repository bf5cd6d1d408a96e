package rules

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// stubDataSource serves canned metric values for evaluator tests.
type stubDataSource struct {
	values    map[string]float64
	slices    map[string]any
	baselines map[string]Baseline
}

func (s *stubDataSource) MetricValue(_ context.Context, metric string) (float64, error) {
	v, ok := s.values[metric]
	if !ok {
		return 0, fmt.Errorf("no samples for metric %q", metric)
	}
	return v, nil
}

func (s *stubDataSource) DataSlice(_ context.Context, name string) (any, error) {
	v, ok := s.slices[name]
	if !ok {
		return nil, fmt.Errorf("unknown data slice %q", name)
	}
	return v, nil
}

func (s *stubDataSource) MetricBaseline(_ context.Context, metric string, _ time.Duration) (Baseline, error) {
	b, ok := s.baselines[metric]
	if !ok {
		return Baseline{}, fmt.Errorf("no baseline for %q", metric)
	}
	return b, nil
}

func testEngine(data DataSource) *Engine {
	return NewEngine(config.DefaultEngineConfig(), nil, data, nil, nil, slog.Default())
}

func TestCompare(t *testing.T) {
	cases := []struct {
		value     float64
		op        models.ComparisonOp
		threshold float64
		want      bool
	}{
		{10, models.OpGreaterThan, 5, true},
		{5, models.OpGreaterThan, 5, false},
		{5, models.OpGreaterEqual, 5, true},
		{4, models.OpLessThan, 5, true},
		{5, models.OpLessEqual, 5, true},
		{5.00001, models.OpEqual, 5, true},
		{5.01, models.OpEqual, 5, false},
		{5.01, models.OpNotEqual, 5, true},
		{5.00001, models.OpNotEqual, 5, false},
	}
	for _, tc := range cases {
		got, err := compare(tc.value, tc.op, tc.threshold)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %v", tc.value, tc.op, tc.threshold)
	}
}

func TestCompare_UnknownOperator(t *testing.T) {
	_, err := compare(1, "between", 2)
	assert.Error(t, err)
}

func TestEvaluateThreshold(t *testing.T) {
	data := &stubDataSource{values: map[string]float64{"transaction_volume": 150}}
	e := testEngine(data)

	rule := &models.AlertRule{ID: "r1", Type: models.RuleTypeThreshold}
	cond := models.RuleCondition{
		Metric: "transaction_volume", Operator: models.OpGreaterThan, Threshold: 100,
	}

	res, err := e.evaluateThreshold(context.Background(), rule, cond)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Equal(t, 150.0, res.Value)
	assert.Equal(t, 100.0, res.Data["threshold"])
}

func TestEvaluateThreshold_MissingMetric(t *testing.T) {
	e := testEngine(&stubDataSource{values: map[string]float64{}})

	rule := &models.AlertRule{ID: "r1", Type: models.RuleTypeThreshold}
	_, err := e.evaluateThreshold(context.Background(), rule, models.RuleCondition{
		Metric: "missing", Operator: models.OpGreaterThan, Threshold: 1,
	})
	assert.Error(t, err)
}

func TestEvaluatePattern(t *testing.T) {
	data := &stubDataSource{slices: map[string]any{
		"recent_transactions": []map[string]any{
			{"type": "wire_transfer", "amount": 9999.0, "currency": "USD"},
		},
	}}
	e := testEngine(data)
	rule := &models.AlertRule{ID: "r2", Type: models.RuleTypePattern}

	t.Run("case-insensitive match fires", func(t *testing.T) {
		res, err := e.evaluatePattern(context.Background(), rule, models.RuleCondition{
			Metric: "recent_transactions", Pattern: "WIRE_TRANSFER",
		})
		require.NoError(t, err)
		assert.True(t, res.Fired)
	})

	t.Run("no match", func(t *testing.T) {
		res, err := e.evaluatePattern(context.Background(), rule, models.RuleCondition{
			Metric: "recent_transactions", Pattern: "crypto",
		})
		require.NoError(t, err)
		assert.False(t, res.Fired)
	})

	t.Run("invalid regex is an error, not a fire", func(t *testing.T) {
		res, err := e.evaluatePattern(context.Background(), rule, models.RuleCondition{
			Metric: "recent_transactions", Pattern: "[unclosed",
		})
		require.Error(t, err)
		assert.False(t, res.Fired)
	})
}

func TestEvaluateAnomaly(t *testing.T) {
	data := &stubDataSource{
		values:    map[string]float64{"system_load": 95},
		baselines: map[string]Baseline{"system_load": {Mean: 50, StdDev: 10, Count: 200}},
	}
	e := testEngine(data)
	rule := &models.AlertRule{ID: "r3", Type: models.RuleTypeAnomaly}

	t.Run("deviation above sensitivity fires", func(t *testing.T) {
		res, err := e.evaluateAnomaly(context.Background(), rule, models.RuleCondition{
			Metric: "system_load",
		})
		require.NoError(t, err)
		assert.True(t, res.Fired)
		assert.InDelta(t, 4.5, res.Data["deviation"], 0.001)
	})

	t.Run("custom sensitivity suppresses", func(t *testing.T) {
		res, err := e.evaluateAnomaly(context.Background(), rule, models.RuleCondition{
			Metric: "system_load", Sensitivity: 5.0,
		})
		require.NoError(t, err)
		assert.False(t, res.Fired)
	})

	t.Run("flat baseline never fires", func(t *testing.T) {
		flat := &stubDataSource{
			values:    map[string]float64{"system_load": 95},
			baselines: map[string]Baseline{"system_load": {Mean: 50, StdDev: 0, Count: 3}},
		}
		res, err := testEngine(flat).evaluateAnomaly(context.Background(), rule, models.RuleCondition{
			Metric: "system_load",
		})
		require.NoError(t, err)
		assert.False(t, res.Fired)
	})
}

func TestEvaluateScheduled(t *testing.T) {
	e := testEngine(&stubDataSource{})
	rule := &models.AlertRule{ID: "r4", Type: models.RuleTypeScheduled}

	t.Run("due expression fires", func(t *testing.T) {
		now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		res, err := e.evaluateScheduled(context.Background(), rule, models.RuleCondition{
			Schedule: "0 9 * * *",
		}, now)
		require.NoError(t, err)
		assert.True(t, res.Fired)
	})

	t.Run("off-schedule does not fire", func(t *testing.T) {
		now := time.Date(2026, 3, 2, 9, 17, 0, 0, time.UTC)
		res, err := e.evaluateScheduled(context.Background(), rule, models.RuleCondition{
			Schedule: "0 9 * * *",
		}, now)
		require.NoError(t, err)
		assert.False(t, res.Fired)
	})

	t.Run("invalid expression is an error", func(t *testing.T) {
		_, err := e.evaluateScheduled(context.Background(), rule, models.RuleCondition{
			Schedule: "not a cron",
		}, time.Now())
		assert.Error(t, err)
	})
}

func TestParseCondition(t *testing.T) {
	cond, err := parseCondition(models.JSONMap{
		"metric": "transaction_volume", "operator": "gt", "threshold": 100.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "transaction_volume", cond.Metric)
	assert.Equal(t, models.OpGreaterThan, cond.Operator)
	assert.Equal(t, 100.0, cond.Threshold)
}

func TestEvaluateRule_CooldownSkipsEvaluation(t *testing.T) {
	// The stub has no metrics, so any condition evaluation would error.
	// A rule inside its cooldown window must be skipped before that.
	e := testEngine(&stubDataSource{})
	now := time.Now()
	last := now.Add(-time.Minute)
	rule := &models.AlertRule{
		ID:              "r-cd",
		Type:            models.RuleTypeThreshold,
		Condition:       models.JSONMap{"metric": "missing", "operator": "gt", "threshold": 1.0},
		CooldownMinutes: 15,
		LastTriggeredAt: &last,
	}

	outcome, err := e.evaluateRule(context.Background(), rule, now)
	require.NoError(t, err)
	assert.Equal(t, fireCooldown, outcome)

	// Outside the window the condition runs and surfaces its error.
	expired := now.Add(-20 * time.Minute)
	rule.LastTriggeredAt = &expired
	_, err = e.evaluateRule(context.Background(), rule, now)
	assert.Error(t, err)
}

func TestRuleCooldown(t *testing.T) {
	now := time.Now()

	t.Run("never triggered", func(t *testing.T) {
		r := &models.AlertRule{CooldownMinutes: 15}
		assert.False(t, r.InCooldown(now))
	})

	t.Run("inside window", func(t *testing.T) {
		last := now.Add(-10 * time.Minute)
		r := &models.AlertRule{CooldownMinutes: 15, LastTriggeredAt: &last}
		assert.True(t, r.InCooldown(now))
	})

	t.Run("exactly at boundary fires", func(t *testing.T) {
		last := now.Add(-15 * time.Minute)
		r := &models.AlertRule{CooldownMinutes: 15, LastTriggeredAt: &last}
		assert.False(t, r.InCooldown(now))
	})

	t.Run("zero cooldown never suppresses", func(t *testing.T) {
		last := now
		r := &models.AlertRule{CooldownMinutes: 0, LastTriggeredAt: &last}
		assert.False(t, r.InCooldown(now))
	})
}
