package models

import "time"

// ScanJobStatus is the lifecycle state of a fraud scan job.
type ScanJobStatus string

// Scan job statuses. Terminal states are completed and failed.
const (
	ScanQueued     ScanJobStatus = "queued"
	ScanProcessing ScanJobStatus = "processing"
	ScanCompleted  ScanJobStatus = "completed"
	ScanFailed     ScanJobStatus = "failed"
)

// ScanFilters narrows the transaction set a scan job covers.
type ScanFilters struct {
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
	MinAmount *float64   `json:"min_amount,omitempty"`
	MaxAmount *float64   `json:"max_amount,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// ScanJob is a queued batch fraud scan, claimed atomically by one worker.
type ScanJob struct {
	ID                    string        `db:"job_id" json:"job_id"`
	Status                ScanJobStatus `db:"status" json:"status"`
	Priority              int           `db:"priority" json:"priority"`
	Filters               JSONMap       `db:"filters" json:"filters"`
	CreatedBy             string        `db:"created_by" json:"created_by,omitempty"`
	WorkerID              *string       `db:"worker_id" json:"worker_id,omitempty"`
	ClaimedAt             *time.Time    `db:"claimed_at" json:"claimed_at,omitempty"`
	StartedAt             *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt           *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	Progress              int           `db:"progress" json:"progress"`
	TransactionsTotal     int           `db:"transactions_total" json:"transactions_total"`
	TransactionsProcessed int           `db:"transactions_processed" json:"transactions_processed"`
	TransactionsFlagged   int           `db:"transactions_flagged" json:"transactions_flagged"`
	Error                 *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
}

// FraudRuleType classifies fraud rule definitions.
type FraudRuleType string

// Fraud rule types.
const (
	FraudRuleThreshold FraudRuleType = "threshold"
	FraudRulePattern   FraudRuleType = "pattern"
	FraudRuleVelocity  FraudRuleType = "velocity"
)

// FraudRule is an enabled fraud detection rule evaluated per transaction.
type FraudRule struct {
	ID              string        `db:"rule_id" json:"rule_id"`
	Name            string        `db:"rule_name" json:"rule_name"`
	Definition      string        `db:"rule_definition" json:"rule_definition"`
	Type            FraudRuleType `db:"rule_type" json:"rule_type"`
	Severity        Severity      `db:"severity" json:"severity"`
	Priority        int           `db:"priority" json:"priority"`
	Enabled         bool          `db:"is_enabled" json:"is_enabled"`
	AlertCount      int           `db:"alert_count" json:"alert_count"`
	LastTriggeredAt *time.Time    `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
}

// Transaction is the per-row view a fraud rule evaluates.
type Transaction struct {
	ID          string    `db:"transaction_id" json:"transaction_id"`
	Amount      float64   `db:"amount" json:"amount"`
	Currency    string    `db:"currency" json:"currency"`
	FromAccount string    `db:"from_account" json:"from_account"`
	ToAccount   string    `db:"to_account" json:"to_account"`
	Type        string    `db:"transaction_type" json:"transaction_type"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// FraudAlert is produced when a fraud rule fires for a transaction.
type FraudAlert struct {
	ID            string    `db:"alert_id" json:"alert_id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	RuleID        string    `db:"rule_id" json:"rule_id"`
	Severity      Severity  `db:"severity" json:"severity"`
	Status        string    `db:"alert_status" json:"alert_status"`
	Amount        float64   `db:"flagged_amount" json:"flagged_amount"`
	Currency      string    `db:"flagged_currency" json:"flagged_currency"`
	FromAccount   string    `db:"from_account" json:"from_account"`
	ToAccount     string    `db:"to_account" json:"to_account"`
	Type          string    `db:"transaction_type" json:"transaction_type"`
	Message       string    `db:"alert_message" json:"alert_message"`
	DetectedAt    time.Time `db:"detected_at" json:"detected_at"`
}
