package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/compliance-ops/regfabric/pkg/database"
)

// Baseline is the trailing-window statistic anomaly rules compare against.
type Baseline struct {
	Mean   float64 `db:"mean"`
	StdDev float64 `db:"stddev"`
	Count  int     `db:"count"`
}

// DataSource provides the metric values rules evaluate against.
// The store-backed implementation reads from the persistence layer;
// tests substitute a stub.
type DataSource interface {
	// MetricValue returns the current value of a named metric.
	MetricValue(ctx context.Context, metric string) (float64, error)

	// DataSlice returns the named data set for pattern rules. The engine
	// JSON-serializes the result before regex matching.
	DataSlice(ctx context.Context, name string) (any, error)

	// MetricBaseline computes mean/std-dev over the trailing window.
	MetricBaseline(ctx context.Context, metric string, window time.Duration) (Baseline, error)
}

// StoreDataSource gathers metrics from the persistence store.
//
// Built-in metrics:
//   - transaction_volume: count of transactions in the last hour
//   - system_load, compliance_score: latest sample from system_metrics
//   - response_time: mean incident acknowledge latency (seconds, last 24h)
//
// Any other name is looked up as a system_metrics sample.
type StoreDataSource struct {
	db *database.Client
}

// NewStoreDataSource creates a store-backed data source.
func NewStoreDataSource(db *database.Client) *StoreDataSource {
	return &StoreDataSource{db: db}
}

// MetricValue implements DataSource.
func (s *StoreDataSource) MetricValue(ctx context.Context, metric string) (float64, error) {
	switch metric {
	case "transaction_volume":
		var count float64
		err := s.db.GetContext(ctx, &count, `
			SELECT count(*) FROM transactions
			WHERE created_at >= now() - interval '1 hour'`)
		if err != nil {
			return 0, fmt.Errorf("failed to count transactions: %w", err)
		}
		return count, nil

	case "response_time":
		var seconds float64
		err := s.db.GetContext(ctx, &seconds, `
			SELECT coalesce(avg(extract(epoch FROM acknowledged_at - triggered_at)), 0)
			FROM alert_incidents
			WHERE acknowledged_at IS NOT NULL
			  AND triggered_at >= now() - interval '24 hours'`)
		if err != nil {
			return 0, fmt.Errorf("failed to compute response time: %w", err)
		}
		return seconds, nil

	default:
		var value float64
		err := s.db.GetContext(ctx, &value, `
			SELECT value FROM system_metrics
			WHERE metric_name = $1
			ORDER BY recorded_at DESC LIMIT 1`, metric)
		if err != nil {
			return 0, fmt.Errorf("no samples for metric %q: %w", metric, err)
		}
		return value, nil
	}
}

// DataSlice implements DataSource. Named slices expose recent rows for
// pattern matching against their JSON form.
func (s *StoreDataSource) DataSlice(ctx context.Context, name string) (any, error) {
	switch name {
	case "recent_incidents":
		rows := []map[string]any{}
		raw := []struct {
			Title    string `db:"title"`
			Message  string `db:"message"`
			Severity string `db:"severity"`
		}{}
		err := s.db.SelectContext(ctx, &raw, `
			SELECT title, message, severity FROM alert_incidents
			ORDER BY triggered_at DESC LIMIT 50`)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent incidents: %w", err)
		}
		for _, r := range raw {
			rows = append(rows, map[string]any{
				"title": r.Title, "message": r.Message, "severity": r.Severity,
			})
		}
		return rows, nil

	case "recent_transactions":
		raw := []struct {
			Type     string  `db:"transaction_type"`
			Amount   float64 `db:"amount"`
			Currency string  `db:"currency"`
		}{}
		err := s.db.SelectContext(ctx, &raw, `
			SELECT transaction_type, amount, currency FROM transactions
			ORDER BY created_at DESC LIMIT 100`)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent transactions: %w", err)
		}
		rows := make([]map[string]any, 0, len(raw))
		for _, r := range raw {
			rows = append(rows, map[string]any{
				"type": r.Type, "amount": r.Amount, "currency": r.Currency,
			})
		}
		return rows, nil

	default:
		return nil, fmt.Errorf("unknown data slice %q", name)
	}
}

// MetricBaseline implements DataSource using system_metrics samples.
func (s *StoreDataSource) MetricBaseline(ctx context.Context, metric string, window time.Duration) (Baseline, error) {
	var b Baseline
	err := s.db.GetContext(ctx, &b, `
		SELECT coalesce(avg(value), 0) AS mean,
		       coalesce(stddev_pop(value), 0) AS stddev,
		       count(*) AS count
		FROM system_metrics
		WHERE metric_name = $1 AND recorded_at >= now() - $2::interval`,
		metric, fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return Baseline{}, fmt.Errorf("failed to compute baseline for %q: %w", metric, err)
	}
	return b, nil
}
