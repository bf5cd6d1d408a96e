// Package config holds per-component configuration with env-based loading.
// Components receive their config structs explicitly at construction; there
// are no process-wide mutable configuration objects.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates all component configurations loaded at startup.
type Config struct {
	Engine    *EngineConfig
	Notify    *NotifyConfig
	SMTP      *SMTPConfig
	Monitor   *MonitorConfig
	Activity  *ActivityConfig
	Scan      *ScanConfig
	Collab    *CollabConfig
	Retention *RetentionConfig
	JWTSecret string
}

// Load reads all component configuration from the environment.
// Fails fast on malformed values (configuration errors are startup errors).
func Load() (*Config, error) {
	smtp, err := LoadSMTPFromEnv()
	if err != nil {
		return nil, err
	}
	monitor, err := LoadMonitorFromEnv()
	if err != nil {
		return nil, err
	}
	collab, err := LoadCollabFromEnv()
	if err != nil {
		return nil, err
	}
	return &Config{
		Engine:    DefaultEngineConfig(),
		Notify:    DefaultNotifyConfig(),
		SMTP:      smtp,
		Monitor:   monitor,
		Activity:  DefaultActivityConfig(),
		Scan:      DefaultScanConfig(),
		Collab:    collab,
		Retention: DefaultRetentionConfig(),
		JWTSecret: os.Getenv("JWT_SECRET_KEY"),
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDurationSeconds(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}
