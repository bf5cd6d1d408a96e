package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/compliance-ops/regfabric/pkg/scan"
)

func TestScanStore_ClaimOrder(t *testing.T) {
	ctx := context.Background()
	store := scan.NewStore(NewTestClient(t))

	low, err := store.Enqueue(ctx, models.JSONMap{}, 1, "tester")
	require.NoError(t, err)
	high, err := store.Enqueue(ctx, models.JSONMap{}, 5, "tester")
	require.NoError(t, err)

	// Highest priority first, regardless of insertion order.
	claimed, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, models.ScanProcessing, claimed.Status)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "worker-1", *claimed.WorkerID)
	assert.NotNil(t, claimed.ClaimedAt)

	claimed, err = store.Claim(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, low.ID, claimed.ID)

	// Empty queue yields nil without error.
	claimed, err = store.Claim(ctx, "worker-3")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestScanStore_ProgressAndCompletion(t *testing.T) {
	ctx := context.Background()
	store := scan.NewStore(NewTestClient(t))

	job, err := store.Enqueue(ctx, models.JSONMap{}, 0, "tester")
	require.NoError(t, err)
	_, err = store.Claim(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, job.ID, 50, 3, 200))
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, got.Progress)
	assert.Equal(t, 50, got.TransactionsProcessed)
	assert.Equal(t, 3, got.TransactionsFlagged)

	require.NoError(t, store.Complete(ctx, job.ID, 200, 7, 200))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, scan.ErrJobNotFound)
}

func TestScanStore_StaleReclaimAndOrphanRecovery(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)
	store := scan.NewStore(db)

	job, err := store.Enqueue(ctx, models.JSONMap{}, 0, "tester")
	require.NoError(t, err)
	_, err = store.Claim(ctx, "worker-1")
	require.NoError(t, err)

	// Fresh claims are not stale.
	n, err := store.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Backdate the claim past the timeout.
	_, err = db.ExecContext(ctx, `
		UPDATE fraud_scan_job_queue SET claimed_at = now() - interval '1 hour'
		WHERE job_id = $1`, job.ID)
	require.NoError(t, err)

	n, err = store.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanQueued, got.Status)
	assert.Nil(t, got.WorkerID)

	// Orphan recovery returns every processing job, age regardless.
	_, err = store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	n, err = store.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanQueued, got.Status)
}

func TestScanStore_AlertBumpsRuleCounters(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)
	store := scan.NewStore(db)

	_, err := db.ExecContext(ctx, `
		INSERT INTO fraud_rules (rule_id, rule_name, rule_definition, rule_type, severity, priority)
		VALUES ('fr-1', 'large transfer', 'amount > 10000', 'threshold', 'high', 10)`)
	require.NoError(t, err)

	alert := &models.FraudAlert{
		TransactionID: "txn-1",
		RuleID:        "fr-1",
		Severity:      models.SeverityHigh,
		Amount:        25000,
		Currency:      "USD",
		FromAccount:   "acct-a",
		ToAccount:     "acct-b",
		Type:          "wire",
		Message:       "large transfer: amount over threshold",
	}
	require.NoError(t, store.InsertAlert(ctx, alert))

	rules, err := store.ListEnabledFraudRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].AlertCount)
	assert.NotNil(t, rules[0].LastTriggeredAt)

	alerts, err := store.ListAlerts(ctx, "fr-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "open", alerts[0].Status)
	assert.Equal(t, 25000.0, alerts[0].Amount)
}

func TestScanStore_TransactionFilters(t *testing.T) {
	ctx := context.Background()
	db := NewTestClient(t)
	store := scan.NewStore(db)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := []struct {
		id     string
		amount float64
		status string
		at     time.Time
	}{
		{"txn-1", 100, "completed", base},
		{"txn-2", 5000, "completed", base.Add(24 * time.Hour)},
		{"txn-3", 20000, "pending", base.Add(48 * time.Hour)},
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
			INSERT INTO transactions (transaction_id, amount, currency, status, created_at)
			VALUES ($1, $2, 'USD', $3, $4)`, r.id, r.amount, r.status, r.at)
		require.NoError(t, err)
	}

	all, err := store.Transactions(ctx, models.ScanFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	minAmount := 1000.0
	filtered, err := store.Transactions(ctx, models.ScanFilters{
		MinAmount: &minAmount,
		Status:    "completed",
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "txn-2", filtered[0].ID)

	from := base.Add(12 * time.Hour)
	byDate, err := store.Transactions(ctx, models.ScanFilters{DateFrom: &from})
	require.NoError(t, err)
	assert.Len(t, byDate, 2)
}
