package config

import "time"

// ActivityConfig controls the agent activity feed.
type ActivityConfig struct {
	// MaxEventsPerAgent bounds each per-agent ring; oldest-first eviction.
	MaxEventsPerAgent int

	// RetentionWindow is the maximum age of events; older ones are pruned
	// by the eviction loop.
	RetentionWindow time.Duration

	// EvictionInterval is how often the eviction loop runs.
	EvictionInterval time.Duration

	// DefaultQueryLimit is the soft cap applied to queries that do not
	// set max_results.
	DefaultQueryLimit int
}

// DefaultActivityConfig returns the built-in activity feed defaults.
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		MaxEventsPerAgent: 1000,
		RetentionWindow:   7 * 24 * time.Hour,
		EvictionInterval:  time.Hour,
		DefaultQueryLimit: 500,
	}
}

// ScanConfig controls the fraud scan worker pool.
type ScanConfig struct {
	// WorkerCount is the number of scan worker goroutines.
	WorkerCount int

	// PollSleep is how long a worker sleeps after finding no queued job.
	PollSleep time.Duration

	// ProgressBatchSize is how many transactions are processed between
	// progress writes.
	ProgressBatchSize int

	// StaleClaimTimeout is how old a processing job's claimed_at may be
	// before the reclaim loop returns it to queued.
	StaleClaimTimeout time.Duration

	// ReclaimInterval is how often the stale-claim reclaim loop runs.
	ReclaimInterval time.Duration
}

// DefaultScanConfig returns the built-in scan pool defaults.
func DefaultScanConfig() *ScanConfig {
	return &ScanConfig{
		WorkerCount:       2,
		PollSleep:         5 * time.Second,
		ProgressBatchSize: 100,
		StaleClaimTimeout: 30 * time.Minute,
		ReclaimInterval:   5 * time.Minute,
	}
}
