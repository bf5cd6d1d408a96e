package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/models"
)

func TestParseThreshold(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		check, err := parseThreshold("amount > 10000")
		require.NoError(t, err)
		assert.Equal(t, ">", check.operator)
		assert.Equal(t, 10000.0, check.limit)
	})

	t.Run("all operators", func(t *testing.T) {
		for _, op := range []string{">", ">=", "<", "<="} {
			_, err := parseThreshold("amount " + op + " 5")
			assert.NoError(t, err, op)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, def := range []string{"", "amount >", "amount == 5", "value > 5", "amount > five"} {
			_, err := parseThreshold(def)
			assert.Error(t, err, def)
		}
	})
}

func TestParseVelocity(t *testing.T) {
	check, err := parseVelocity("5 within 10m")
	require.NoError(t, err)
	assert.Equal(t, 5, check.count)
	assert.Equal(t, 10*time.Minute, check.window)

	for _, def := range []string{"", "5 in 10m", "zero within 10m", "5 within fast", "-1 within 10m"} {
		_, err := parseVelocity(def)
		assert.Error(t, err, def)
	}
}

func TestThresholdCheck_Matches(t *testing.T) {
	cases := []struct {
		op     string
		limit  float64
		amount float64
		want   bool
	}{
		{">", 100, 150, true},
		{">", 100, 100, false},
		{">=", 100, 100, true},
		{"<", 100, 50, true},
		{"<=", 100, 100, true},
		{"<=", 100, 101, false},
	}
	for _, tc := range cases {
		check := thresholdCheck{operator: tc.op, limit: tc.limit}
		assert.Equal(t, tc.want, check.matches(tc.amount), "%v %s %v", tc.amount, tc.op, tc.limit)
	}
}

func TestEvaluatePattern(t *testing.T) {
	t.Run("same_account", func(t *testing.T) {
		fired, reason, err := evaluatePattern("same_account", &models.Transaction{
			FromAccount: "acct-1", ToAccount: "acct-1",
		})
		require.NoError(t, err)
		assert.True(t, fired)
		assert.Contains(t, reason, "acct-1")

		fired, _, err = evaluatePattern("same_account", &models.Transaction{
			FromAccount: "acct-1", ToAccount: "acct-2",
		})
		require.NoError(t, err)
		assert.False(t, fired)

		// Two empty accounts are not a match.
		fired, _, err = evaluatePattern("same_account", &models.Transaction{})
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("international_high_value", func(t *testing.T) {
		fired, _, err := evaluatePattern("international_high_value", &models.Transaction{
			Type: "international", Amount: 15000, Currency: "USD",
		})
		require.NoError(t, err)
		assert.True(t, fired)

		fired, _, err = evaluatePattern("international_high_value", &models.Transaction{
			Type: "international", Amount: 500,
		})
		require.NoError(t, err)
		assert.False(t, fired)

		fired, _, err = evaluatePattern("international_high_value", &models.Transaction{
			Type: "domestic", Amount: 50000,
		})
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("unusual_currency", func(t *testing.T) {
		fired, _, err := evaluatePattern("unusual_currency", &models.Transaction{Currency: "XOF"})
		require.NoError(t, err)
		assert.True(t, fired)

		fired, _, err = evaluatePattern("unusual_currency", &models.Transaction{Currency: "usd"})
		require.NoError(t, err)
		assert.False(t, fired)
	})

	t.Run("unknown pattern", func(t *testing.T) {
		_, _, err := evaluatePattern("round_tripping", &models.Transaction{})
		assert.Error(t, err)
	})
}

func TestNewEvaluator_ReportsParseErrors(t *testing.T) {
	rules := []*models.FraudRule{
		{ID: "ok", Type: models.FraudRuleThreshold, Definition: "amount > 100"},
		{ID: "bad-threshold", Type: models.FraudRuleThreshold, Definition: "amount is big"},
		{ID: "bad-pattern", Type: models.FraudRulePattern, Definition: "nope"},
		{ID: "ok-velocity", Type: models.FraudRuleVelocity, Definition: "3 within 5m"},
	}
	e, errs := NewEvaluator(nil, rules)
	assert.Len(t, errs, 2)
	assert.Contains(t, e.thresholds, "ok")
	assert.NotContains(t, e.thresholds, "bad-threshold")
	assert.Contains(t, e.velocities, "ok-velocity")
}

func TestEvaluator_ThresholdAndUnparsedRules(t *testing.T) {
	rules := []*models.FraudRule{
		{ID: "r1", Name: "large amount", Type: models.FraudRuleThreshold, Definition: "amount >= 10000"},
		{ID: "r2", Name: "broken", Type: models.FraudRuleThreshold, Definition: "garbage"},
	}
	e, _ := NewEvaluator(nil, rules)
	ctx := context.Background()

	fired, reason, err := e.Evaluate(ctx, rules[0], &models.Transaction{Amount: 10000})
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Contains(t, reason, "10000")

	// A rule that failed to parse never fires and never errors.
	fired, _, err = e.Evaluate(ctx, rules[1], &models.Transaction{Amount: 10000})
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestParseFilters(t *testing.T) {
	min := 100.0
	filters, err := parseFilters(models.JSONMap{"min_amount": min, "status": "completed"})
	require.NoError(t, err)
	require.NotNil(t, filters.MinAmount)
	assert.Equal(t, min, *filters.MinAmount)
	assert.Equal(t, "completed", filters.Status)
	assert.Nil(t, filters.DateFrom)
}
