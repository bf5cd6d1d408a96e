package scan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// commonCurrencies are the currencies the unusual_currency pattern accepts.
var commonCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "CAD": true,
}

// thresholdCheck is a parsed threshold definition such as "amount > 10000".
type thresholdCheck struct {
	operator string
	limit    float64
}

// velocityCheck is a parsed velocity definition such as "5 within 10m":
// more than count transactions from the same source account inside the
// window ending at the evaluated row.
type velocityCheck struct {
	count  int
	window time.Duration
}

// Evaluator applies enabled fraud rules to one transaction at a time.
// Threshold and pattern rules are pure; velocity rules count sibling rows
// through the store.
type Evaluator struct {
	db *database.Client

	thresholds map[string]thresholdCheck
	velocities map[string]velocityCheck
}

// NewEvaluator parses the given rules. Rules whose definitions do not parse
// are reported and excluded rather than silently matching nothing.
func NewEvaluator(db *database.Client, rules []*models.FraudRule) (*Evaluator, []error) {
	e := &Evaluator{
		db:         db,
		thresholds: map[string]thresholdCheck{},
		velocities: map[string]velocityCheck{},
	}
	var parseErrs []error
	for _, rule := range rules {
		switch rule.Type {
		case models.FraudRuleThreshold:
			check, err := parseThreshold(rule.Definition)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("rule %s: %w", rule.ID, err))
				continue
			}
			e.thresholds[rule.ID] = check
		case models.FraudRuleVelocity:
			check, err := parseVelocity(rule.Definition)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("rule %s: %w", rule.ID, err))
				continue
			}
			e.velocities[rule.ID] = check
		case models.FraudRulePattern:
			if !knownPattern(rule.Definition) {
				parseErrs = append(parseErrs, fmt.Errorf("rule %s: unknown pattern %q", rule.ID, rule.Definition))
			}
		default:
			parseErrs = append(parseErrs, fmt.Errorf("rule %s: unknown rule type %q", rule.ID, rule.Type))
		}
	}
	return e, parseErrs
}

// Evaluate reports whether the rule fires for the transaction, with a
// human-readable reason when it does.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.FraudRule, tx *models.Transaction) (bool, string, error) {
	switch rule.Type {
	case models.FraudRuleThreshold:
		check, ok := e.thresholds[rule.ID]
		if !ok {
			return false, "", nil
		}
		if check.matches(tx.Amount) {
			return true, fmt.Sprintf("amount %.2f %s %.2f", tx.Amount, check.operator, check.limit), nil
		}
		return false, "", nil

	case models.FraudRulePattern:
		// Unknown patterns were reported at parse time; skip them here.
		if !knownPattern(rule.Definition) {
			return false, "", nil
		}
		return evaluatePattern(rule.Definition, tx)

	case models.FraudRuleVelocity:
		check, ok := e.velocities[rule.ID]
		if !ok {
			return false, "", nil
		}
		return e.evaluateVelocity(ctx, check, tx)

	default:
		return false, "", fmt.Errorf("unknown fraud rule type %q", rule.Type)
	}
}

func (c thresholdCheck) matches(amount float64) bool {
	switch c.operator {
	case ">":
		return amount > c.limit
	case ">=":
		return amount >= c.limit
	case "<":
		return amount < c.limit
	case "<=":
		return amount <= c.limit
	}
	return false
}

// parseThreshold accepts "amount <op> <value>" with op in > >= < <=.
func parseThreshold(definition string) (thresholdCheck, error) {
	fields := strings.Fields(definition)
	if len(fields) != 3 || fields[0] != "amount" {
		return thresholdCheck{}, fmt.Errorf("malformed threshold definition %q", definition)
	}
	switch fields[1] {
	case ">", ">=", "<", "<=":
	default:
		return thresholdCheck{}, fmt.Errorf("unsupported operator %q", fields[1])
	}
	limit, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return thresholdCheck{}, fmt.Errorf("malformed threshold value %q", fields[2])
	}
	return thresholdCheck{operator: fields[1], limit: limit}, nil
}

// parseVelocity accepts "<count> within <duration>", e.g. "5 within 10m".
func parseVelocity(definition string) (velocityCheck, error) {
	fields := strings.Fields(definition)
	if len(fields) != 3 || fields[1] != "within" {
		return velocityCheck{}, fmt.Errorf("malformed velocity definition %q", definition)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count <= 0 {
		return velocityCheck{}, fmt.Errorf("malformed velocity count %q", fields[0])
	}
	window, err := time.ParseDuration(fields[2])
	if err != nil || window <= 0 {
		return velocityCheck{}, fmt.Errorf("malformed velocity window %q", fields[2])
	}
	return velocityCheck{count: count, window: window}, nil
}

func knownPattern(name string) bool {
	switch name {
	case "same_account", "international_high_value", "unusual_currency":
		return true
	}
	return false
}

func evaluatePattern(name string, tx *models.Transaction) (bool, string, error) {
	switch name {
	case "same_account":
		if tx.FromAccount != "" && tx.FromAccount == tx.ToAccount {
			return true, fmt.Sprintf("source and destination are both %s", tx.FromAccount), nil
		}
		return false, "", nil

	case "international_high_value":
		if tx.Type == "international" && tx.Amount >= 10000 {
			return true, fmt.Sprintf("international transfer of %.2f %s", tx.Amount, tx.Currency), nil
		}
		return false, "", nil

	case "unusual_currency":
		if tx.Currency != "" && !commonCurrencies[strings.ToUpper(tx.Currency)] {
			return true, fmt.Sprintf("uncommon currency %s", tx.Currency), nil
		}
		return false, "", nil

	default:
		return false, "", fmt.Errorf("unknown pattern %q", name)
	}
}

// evaluateVelocity counts transactions from the same source account in the
// window ending at the evaluated row. The row itself is included, so the
// rule fires when count exceeds the configured limit.
func (e *Evaluator) evaluateVelocity(ctx context.Context, check velocityCheck, tx *models.Transaction) (bool, string, error) {
	if tx.FromAccount == "" {
		return false, "", nil
	}
	var count int
	err := e.db.GetContext(ctx, &count, `
		SELECT count(*) FROM transactions
		WHERE from_account = $1
		  AND created_at > $2 AND created_at <= $3`,
		tx.FromAccount, tx.CreatedAt.Add(-check.window), tx.CreatedAt)
	if err != nil {
		return false, "", fmt.Errorf("failed to count velocity window: %w", err)
	}
	if count > check.count {
		return true, fmt.Sprintf("%d transactions from %s within %s", count, tx.FromAccount, check.window), nil
	}
	return false, "", nil
}
