package config

import "time"

// EngineConfig controls the rule evaluation engine.
type EngineConfig struct {
	// EvaluationInterval is how often a full evaluation pass runs.
	EvaluationInterval time.Duration

	// AnomalyWindow is the trailing window used to compute the
	// mean/std-dev baseline for anomaly rules.
	AnomalyWindow time.Duration

	// DefaultSensitivity is the std-dev multiplier for anomaly rules
	// that do not configure their own.
	DefaultSensitivity float64
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		EvaluationInterval: 30 * time.Second,
		AnomalyWindow:      24 * time.Hour,
		DefaultSensitivity: 2.0,
	}
}

// NotifyConfig controls the notification service's workers and retries.
type NotifyConfig struct {
	// WorkerCount is the number of delivery worker goroutines.
	WorkerCount int

	// QueueSize bounds the in-process request queue.
	QueueSize int

	// MaxRetryAttempts caps retry_count; once reached, status is
	// terminally failed.
	MaxRetryAttempts int

	// RetryBaseDelay is the base for exponential backoff:
	// next = now + base * 2^retry_count ± 25% jitter.
	RetryBaseDelay time.Duration

	// RetryPollInterval is how often the retry task reclaims due rows.
	RetryPollInterval time.Duration

	// RetryBatchLimit caps how many due rows a single retry pass reclaims.
	RetryBatchLimit int

	// DeliveryTimeout bounds each transport attempt.
	DeliveryTimeout time.Duration
}

// DefaultNotifyConfig returns the built-in notification defaults.
func DefaultNotifyConfig() *NotifyConfig {
	return &NotifyConfig{
		WorkerCount:       5,
		QueueSize:         256,
		MaxRetryAttempts:  3,
		RetryBaseDelay:    60 * time.Second,
		RetryPollInterval: 30 * time.Second,
		RetryBatchLimit:   10,
		DeliveryTimeout:   30 * time.Second,
	}
}

// RetentionConfig controls the cleanup service's sweeps.
type RetentionConfig struct {
	// IncidentRetention is how long resolved and false-positive incidents
	// are kept before deletion.
	IncidentRetention time.Duration

	// NotificationTTL is how long terminal notification attempts are kept.
	NotificationTTL time.Duration

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		IncidentRetention: 90 * 24 * time.Hour,
		NotificationTTL:   30 * 24 * time.Hour,
		CleanupInterval:   12 * time.Hour,
	}
}
