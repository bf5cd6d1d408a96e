package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/compliance-ops/regfabric/pkg/models"
)

// eqEpsilon is the tolerance for eq/ne float comparisons.
const eqEpsilon = 1e-4

// EvalResult is the outcome of evaluating one rule.
type EvalResult struct {
	Fired  bool
	Value  float64
	Detail string
	Data   models.JSONMap
}

// parseCondition decodes the rule's structured condition.
func parseCondition(raw models.JSONMap) (models.RuleCondition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return models.RuleCondition{}, fmt.Errorf("invalid condition: %w", err)
	}
	var cond models.RuleCondition
	if err := json.Unmarshal(data, &cond); err != nil {
		return models.RuleCondition{}, fmt.Errorf("invalid condition: %w", err)
	}
	return cond, nil
}

// evaluateThreshold compares the named metric's current value against the
// configured threshold.
func (e *Engine) evaluateThreshold(ctx context.Context, rule *models.AlertRule, cond models.RuleCondition) (EvalResult, error) {
	if cond.Metric == "" {
		return EvalResult{}, fmt.Errorf("threshold rule %s has no metric", rule.ID)
	}
	value, err := e.data.MetricValue(ctx, cond.Metric)
	if err != nil {
		return EvalResult{}, err
	}

	fired, err := compare(value, cond.Operator, cond.Threshold)
	if err != nil {
		return EvalResult{}, err
	}

	return EvalResult{
		Fired:  fired,
		Value:  value,
		Detail: fmt.Sprintf("%s = %.4f (%s %.4f)", cond.Metric, value, cond.Operator, cond.Threshold),
		Data: models.JSONMap{
			"metric":        cond.Metric,
			"current_value": value,
			"operator":      string(cond.Operator),
			"threshold":     cond.Threshold,
		},
	}, nil
}

func compare(value float64, op models.ComparisonOp, threshold float64) (bool, error) {
	switch op {
	case models.OpGreaterThan:
		return value > threshold, nil
	case models.OpGreaterEqual:
		return value >= threshold, nil
	case models.OpLessThan:
		return value < threshold, nil
	case models.OpLessEqual:
		return value <= threshold, nil
	case models.OpEqual:
		return math.Abs(value-threshold) < eqEpsilon, nil
	case models.OpNotEqual:
		return math.Abs(value-threshold) >= eqEpsilon, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %q", op)
	}
}

// evaluatePattern runs a case-insensitive regex over the JSON form of the
// named data slice. An invalid regex is an evaluation error, never a fire.
func (e *Engine) evaluatePattern(ctx context.Context, rule *models.AlertRule, cond models.RuleCondition) (EvalResult, error) {
	if cond.Pattern == "" {
		return EvalResult{}, fmt.Errorf("pattern rule %s has no pattern", rule.ID)
	}
	re, err := regexp.Compile("(?i)" + cond.Pattern)
	if err != nil {
		return EvalResult{}, fmt.Errorf("invalid pattern %q: %w", cond.Pattern, err)
	}

	slice, err := e.data.DataSlice(ctx, cond.Metric)
	if err != nil {
		return EvalResult{}, err
	}
	serialized, err := json.Marshal(slice)
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to serialize data slice: %w", err)
	}

	match := re.Find(serialized)
	return EvalResult{
		Fired:  match != nil,
		Detail: fmt.Sprintf("pattern %q on %s", cond.Pattern, cond.Metric),
		Data: models.JSONMap{
			"pattern": cond.Pattern,
			"slice":   cond.Metric,
			"match":   string(match),
		},
	}, nil
}

// evaluateAnomaly compares the current value against the trailing-window
// mean, firing when it deviates more than sensitivity standard deviations.
func (e *Engine) evaluateAnomaly(ctx context.Context, rule *models.AlertRule, cond models.RuleCondition) (EvalResult, error) {
	if cond.Metric == "" {
		return EvalResult{}, fmt.Errorf("anomaly rule %s has no metric", rule.ID)
	}
	value, err := e.data.MetricValue(ctx, cond.Metric)
	if err != nil {
		return EvalResult{}, err
	}
	baseline, err := e.data.MetricBaseline(ctx, cond.Metric, e.cfg.AnomalyWindow)
	if err != nil {
		return EvalResult{}, err
	}

	sensitivity := cond.Sensitivity
	if sensitivity <= 0 {
		sensitivity = e.cfg.DefaultSensitivity
	}

	// A flat baseline cannot produce a deviation score.
	if baseline.StdDev == 0 {
		return EvalResult{Value: value}, nil
	}

	deviation := math.Abs(value-baseline.Mean) / baseline.StdDev
	return EvalResult{
		Fired:  deviation > sensitivity,
		Value:  value,
		Detail: fmt.Sprintf("%s deviates %.2fσ from baseline %.4f", cond.Metric, deviation, baseline.Mean),
		Data: models.JSONMap{
			"metric":        cond.Metric,
			"current_value": value,
			"baseline_mean": baseline.Mean,
			"baseline_std":  baseline.StdDev,
			"deviation":     deviation,
			"sensitivity":   sensitivity,
		},
	}, nil
}

// evaluateScheduled fires when the rule's cron expression matches the
// current local time.
func (e *Engine) evaluateScheduled(_ context.Context, rule *models.AlertRule, cond models.RuleCondition, now time.Time) (EvalResult, error) {
	if cond.Schedule == "" {
		return EvalResult{}, fmt.Errorf("scheduled rule %s has no schedule", rule.ID)
	}
	due, err := e.gron.IsDue(cond.Schedule, now)
	if err != nil {
		return EvalResult{}, fmt.Errorf("invalid schedule %q: %w", cond.Schedule, err)
	}
	return EvalResult{
		Fired:  due,
		Detail: fmt.Sprintf("schedule %q matched at %s", cond.Schedule, now.Format(time.RFC3339)),
		Data: models.JSONMap{
			"schedule":   cond.Schedule,
			"matched_at": now.Format(time.RFC3339),
		},
	}, nil
}
