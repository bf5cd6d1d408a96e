package config

import "time"

// MonitorConfig controls the regulatory event subscriber's polling loop.
type MonitorConfig struct {
	// MonitorURL is the base URL of the upstream regulatory monitor.
	MonitorURL string

	// PollInterval is the base interval between polls.
	PollInterval time.Duration

	// MaxRetryAttempts caps consecutive failures before the subscriber
	// holds at maximum backoff.
	MaxRetryAttempts int

	// RequestTimeout bounds the whole HTTP request.
	RequestTimeout time.Duration

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
}

// DefaultMonitorConfig returns the built-in subscriber defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		MonitorURL:       "http://localhost:9000",
		PollInterval:     30 * time.Second,
		MaxRetryAttempts: 10,
		RequestTimeout:   30 * time.Second,
		ConnectTimeout:   10 * time.Second,
	}
}

// LoadMonitorFromEnv loads subscriber configuration from REGULATORY_*
// environment variables.
func LoadMonitorFromEnv() (*MonitorConfig, error) {
	cfg := DefaultMonitorConfig()
	cfg.MonitorURL = getEnvOrDefault("REGULATORY_MONITOR_URL", cfg.MonitorURL)

	interval, err := getEnvDurationSeconds("REGULATORY_POLL_INTERVAL_SECONDS", cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = interval

	attempts, err := getEnvInt("REGULATORY_MAX_RETRY_ATTEMPTS", cfg.MaxRetryAttempts)
	if err != nil {
		return nil, err
	}
	cfg.MaxRetryAttempts = attempts

	return cfg, nil
}
