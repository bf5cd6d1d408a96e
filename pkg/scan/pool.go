// Package scan implements the fraud scan worker pool: a Postgres-backed
// job queue with atomic claims, batch progress reporting, and stale-claim
// recovery.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/models"
)

// Pool runs a fixed set of scan workers over the job queue.
type Pool struct {
	log     *slog.Logger
	cfg     *config.ScanConfig
	store   *Store
	metrics *metrics.Registry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a scan worker pool.
func NewPool(cfg *config.ScanConfig, store *Store, m *metrics.Registry, logger *slog.Logger) *Pool {
	if cfg == nil {
		cfg = config.DefaultScanConfig()
	}
	return &Pool{
		log:     logger.With("component", "scan_pool"),
		cfg:     cfg,
		store:   store,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
}

// Start recovers orphaned claims and launches the workers and the
// stale-claim reclaim loop.
func (p *Pool) Start(ctx context.Context) error {
	recovered, err := p.store.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	if recovered > 0 {
		p.log.Info("Recovered orphaned scan jobs", "count", recovered)
	}

	p.log.Info("Starting scan worker pool",
		"workers", p.cfg.WorkerCount,
		"poll_sleep", p.cfg.PollSleep,
		"stale_claim_timeout", p.cfg.StaleClaimTimeout)

	hostname, _ := os.Hostname()
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-scan-%d", hostname, i)
		p.wg.Add(1)
		go p.worker(ctx, workerID)
	}

	p.wg.Add(1)
	go p.reclaimLoop(ctx)
	return nil
}

// Stop drains the workers. A job in flight finishes its current batch and
// is reclaimed later by the stale-claim loop if the process dies first.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.log.Info("Scan worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	log := p.log.With("worker_id", workerID)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.Claim(ctx, workerID)
		if err != nil {
			log.Error("Claim failed", "error", err)
			job = nil
		}
		if job == nil {
			select {
			case <-time.After(p.cfg.PollSleep):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		if p.metrics != nil {
			p.metrics.ScanJobsClaimed.Inc()
		}
		log.Info("Claimed scan job", "job_id", job.ID, "priority", job.Priority)

		if err := p.runJob(ctx, log, job); err != nil {
			log.Error("Scan job failed", "job_id", job.ID, "error", err)
			if p.metrics != nil {
				p.metrics.ScanJobsFailed.Inc()
			}
			if failErr := p.store.Fail(ctx, job.ID, err); failErr != nil {
				log.Error("Failed to persist job failure", "job_id", job.ID, "error", failErr)
			}
		}
	}
}

// runJob streams the job's transactions through every enabled fraud rule,
// writing progress once per batch.
func (p *Pool) runJob(ctx context.Context, log *slog.Logger, job *models.ScanJob) error {
	filters, err := parseFilters(job.Filters)
	if err != nil {
		return err
	}

	fraudRules, err := p.store.ListEnabledFraudRules(ctx)
	if err != nil {
		return err
	}
	evaluator, parseErrs := NewEvaluator(p.store.db, fraudRules)
	for _, perr := range parseErrs {
		log.Warn("Skipping unparseable fraud rule", "error", perr)
	}

	transactions, err := p.store.Transactions(ctx, filters)
	if err != nil {
		return err
	}
	total := len(transactions)
	log.Info("Scanning transactions",
		"job_id", job.ID, "transactions", total, "rules", len(fraudRules))

	processed, flagged := 0, 0
	for _, tx := range transactions {
		select {
		case <-p.stopCh:
			// Persist progress and leave the job claimed; the stale-claim
			// loop returns it to queued once the timeout passes.
			return p.store.UpdateProgress(ctx, job.ID, processed, flagged, total)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hit := false
		for _, rule := range fraudRules {
			fired, reason, err := evaluator.Evaluate(ctx, rule, tx)
			if err != nil {
				log.Error("Fraud rule evaluation failed",
					"rule_id", rule.ID, "transaction_id", tx.ID, "error", err)
				continue
			}
			if !fired {
				continue
			}
			hit = true
			alert := &models.FraudAlert{
				TransactionID: tx.ID,
				RuleID:        rule.ID,
				Severity:      rule.Severity,
				Amount:        tx.Amount,
				Currency:      tx.Currency,
				FromAccount:   tx.FromAccount,
				ToAccount:     tx.ToAccount,
				Type:          tx.Type,
				Message:       fmt.Sprintf("%s: %s", rule.Name, reason),
			}
			if err := p.store.InsertAlert(ctx, alert); err != nil {
				log.Error("Failed to insert fraud alert",
					"rule_id", rule.ID, "transaction_id", tx.ID, "error", err)
				continue
			}
			if p.metrics != nil {
				p.metrics.FraudAlertsRaised.Inc()
			}
		}

		processed++
		if hit {
			flagged++
		}
		if p.metrics != nil {
			p.metrics.TransactionsScanned.Inc()
		}
		if processed%p.cfg.ProgressBatchSize == 0 {
			if err := p.store.UpdateProgress(ctx, job.ID, processed, flagged, total); err != nil {
				log.Error("Failed to write scan progress", "job_id", job.ID, "error", err)
			}
		}
	}

	if err := p.store.Complete(ctx, job.ID, processed, flagged, total); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.ScanJobsCompleted.Inc()
	}
	log.Info("Scan job completed",
		"job_id", job.ID, "processed", processed, "flagged", flagged)
	return nil
}

func parseFilters(raw models.JSONMap) (models.ScanFilters, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return models.ScanFilters{}, fmt.Errorf("invalid scan filters: %w", err)
	}
	var filters models.ScanFilters
	if err := json.Unmarshal(data, &filters); err != nil {
		return models.ScanFilters{}, fmt.Errorf("invalid scan filters: %w", err)
	}
	return filters, nil
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := p.store.ReclaimStale(ctx, p.cfg.StaleClaimTimeout)
			if err != nil {
				p.log.Error("Stale claim reclaim failed", "error", err)
				continue
			}
			if n > 0 {
				if p.metrics != nil {
					p.metrics.StaleClaimsReclaimed.Add(float64(n))
				}
				p.log.Warn("Reclaimed stale scan claims", "count", n)
			}
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
