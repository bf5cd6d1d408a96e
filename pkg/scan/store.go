package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("scan job not found")

// Store persists scan jobs, fraud rules, and fraud alerts.
type Store struct {
	db *database.Client
}

// NewStore creates a scan store.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// Enqueue inserts a queued scan job.
func (s *Store) Enqueue(ctx context.Context, filters models.JSONMap, priority int, createdBy string) (*models.ScanJob, error) {
	job := &models.ScanJob{
		ID:        uuid.New().String(),
		Status:    models.ScanQueued,
		Priority:  priority,
		Filters:   filters,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_scan_job_queue (job_id, status, priority, filters, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.Status, job.Priority, job.Filters, job.CreatedBy, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue scan job: %w", err)
	}
	return job, nil
}

// Claim atomically moves the highest-priority queued job to processing for
// the given worker. SKIP LOCKED guarantees one claimer per job across
// concurrent workers. Returns nil when the queue is empty.
func (s *Store) Claim(ctx context.Context, workerID string) (*models.ScanJob, error) {
	var job models.ScanJob
	err := s.db.GetContext(ctx, &job, `
		UPDATE fraud_scan_job_queue
		SET status = 'processing', worker_id = $1, claimed_at = now(), started_at = now()
		WHERE job_id = (
			SELECT job_id FROM fraud_scan_job_queue
			WHERE status = 'queued'
			ORDER BY priority DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim scan job: %w", err)
	}
	return &job, nil
}

// UpdateProgress writes processed/flagged counts and the derived percent.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, processed, flagged, total int) error {
	progress := 0
	if total > 0 {
		progress = processed * 100 / total
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE fraud_scan_job_queue
		SET progress = $2, transactions_processed = $3, transactions_flagged = $4,
		    transactions_total = $5
		WHERE job_id = $1`,
		jobID, progress, processed, flagged, total)
	if err != nil {
		return fmt.Errorf("failed to update scan progress: %w", err)
	}
	return nil
}

// Complete marks a job finished with its final counts.
func (s *Store) Complete(ctx context.Context, jobID string, processed, flagged, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fraud_scan_job_queue
		SET status = 'completed', completed_at = now(), progress = 100,
		    transactions_processed = $2, transactions_flagged = $3,
		    transactions_total = $4
		WHERE job_id = $1`,
		jobID, processed, flagged, total)
	if err != nil {
		return fmt.Errorf("failed to complete scan job: %w", err)
	}
	return nil
}

// Fail marks a job terminally failed.
func (s *Store) Fail(ctx context.Context, jobID string, jobErr error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fraud_scan_job_queue
		SET status = 'failed', completed_at = now(), error_message = $2
		WHERE job_id = $1`,
		jobID, jobErr.Error())
	if err != nil {
		return fmt.Errorf("failed to mark scan job failed: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.ScanJob, error) {
	var job models.ScanJob
	err := s.db.GetContext(ctx, &job,
		`SELECT * FROM fraud_scan_job_queue WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status models.ScanJobStatus, limit int) ([]*models.ScanJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.ScanJob
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &out, `
			SELECT * FROM fraud_scan_job_queue
			ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, `
			SELECT * FROM fraud_scan_job_queue WHERE status = $1
			ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	return out, nil
}

// ReclaimStale returns processing jobs whose claim is older than the
// timeout to queued, so another worker can pick them up.
func (s *Store) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fraud_scan_job_queue
		SET status = 'queued', worker_id = NULL, claimed_at = NULL, started_at = NULL
		WHERE status = 'processing' AND claimed_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(timeout.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale scan jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecoverOrphans returns every processing job to queued, regardless of
// claim age. Called once at startup before workers begin, when no claim
// can legitimately be in flight.
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fraud_scan_job_queue
		SET status = 'queued', worker_id = NULL, claimed_at = NULL, started_at = NULL
		WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned scan jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListEnabledFraudRules returns enabled fraud rules, highest priority first.
func (s *Store) ListEnabledFraudRules(ctx context.Context) ([]*models.FraudRule, error) {
	var out []*models.FraudRule
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM fraud_rules WHERE is_enabled
		ORDER BY priority DESC, rule_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud rules: %w", err)
	}
	return out, nil
}

// Transactions streams the transactions a job's filters select, ordered by
// creation time so progress is deterministic.
func (s *Store) Transactions(ctx context.Context, filters models.ScanFilters) ([]*models.Transaction, error) {
	query := `SELECT * FROM transactions WHERE 1=1`
	args := []any{}
	idx := 1

	add := func(clause string, value any) {
		query += fmt.Sprintf(" AND %s $%d", clause, idx)
		args = append(args, value)
		idx++
	}
	if filters.DateFrom != nil {
		add("created_at >=", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		add("created_at <=", *filters.DateTo)
	}
	if filters.MinAmount != nil {
		add("amount >=", *filters.MinAmount)
	}
	if filters.MaxAmount != nil {
		add("amount <=", *filters.MaxAmount)
	}
	if filters.Status != "" {
		add("status =", filters.Status)
	}
	query += " ORDER BY created_at"

	var out []*models.Transaction
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return out, nil
}

// InsertAlert records a fraud alert and bumps the rule's counters.
func (s *Store) InsertAlert(ctx context.Context, alert *models.FraudAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Status == "" {
		alert.Status = "open"
	}
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin alert tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fraud_alerts (
			alert_id, transaction_id, rule_id, severity, alert_status,
			flagged_amount, flagged_currency, from_account, to_account,
			transaction_type, alert_message, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		alert.ID, alert.TransactionID, alert.RuleID, alert.Severity, alert.Status,
		alert.Amount, alert.Currency, alert.FromAccount, alert.ToAccount,
		alert.Type, alert.Message, alert.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fraud alert: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE fraud_rules
		SET alert_count = alert_count + 1, last_triggered_at = $2
		WHERE rule_id = $1`, alert.RuleID, alert.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to bump fraud rule counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fraud alert: %w", err)
	}
	return nil
}

// ListAlerts returns fraud alerts newest first, optionally for one rule.
func (s *Store) ListAlerts(ctx context.Context, ruleID string, limit int) ([]*models.FraudAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.FraudAlert
	var err error
	if ruleID == "" {
		err = s.db.SelectContext(ctx, &out, `
			SELECT * FROM fraud_alerts ORDER BY detected_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, `
			SELECT * FROM fraud_alerts WHERE rule_id = $1
			ORDER BY detected_at DESC LIMIT $2`, ruleID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud alerts: %w", err)
	}
	return out, nil
}
