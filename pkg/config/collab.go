package config

import "time"

// CollabConfig controls the collaboration session manager.
// All values are overridable via COLLABORATION_* environment variables.
type CollabConfig struct {
	MaxSessionsPerUser    int
	MaxMessagesPerSession int
	SessionTimeout        time.Duration
	RequestTimeout        time.Duration
	EnablePersistence     bool
	MaxActiveRequests     int
	RequireAuth           bool
	CleanupInterval       time.Duration
}

// DefaultCollabConfig returns the built-in collaboration defaults.
func DefaultCollabConfig() *CollabConfig {
	return &CollabConfig{
		MaxSessionsPerUser:    10,
		MaxMessagesPerSession: 1000,
		SessionTimeout:        24 * time.Hour,
		RequestTimeout:        24 * time.Hour,
		EnablePersistence:     false,
		MaxActiveRequests:     100,
		RequireAuth:           false,
		CleanupInterval:       5 * time.Minute,
	}
}

// LoadCollabFromEnv loads collaboration configuration from
// COLLABORATION_* environment variables.
func LoadCollabFromEnv() (*CollabConfig, error) {
	cfg := DefaultCollabConfig()

	var err error
	if cfg.MaxSessionsPerUser, err = getEnvInt("COLLABORATION_MAX_SESSIONS_PER_USER", cfg.MaxSessionsPerUser); err != nil {
		return nil, err
	}
	if cfg.MaxMessagesPerSession, err = getEnvInt("COLLABORATION_MAX_MESSAGES_PER_SESSION", cfg.MaxMessagesPerSession); err != nil {
		return nil, err
	}

	timeoutHours, err := getEnvInt("COLLABORATION_SESSION_TIMEOUT_HOURS", int(cfg.SessionTimeout/time.Hour))
	if err != nil {
		return nil, err
	}
	cfg.SessionTimeout = time.Duration(timeoutHours) * time.Hour

	requestHours, err := getEnvInt("COLLABORATION_REQUEST_TIMEOUT_HOURS", int(cfg.RequestTimeout/time.Hour))
	if err != nil {
		return nil, err
	}
	cfg.RequestTimeout = time.Duration(requestHours) * time.Hour

	if cfg.MaxActiveRequests, err = getEnvInt("COLLABORATION_MAX_ACTIVE_REQUESTS", cfg.MaxActiveRequests); err != nil {
		return nil, err
	}
	cfg.EnablePersistence = getEnvBool("COLLABORATION_ENABLE_PERSISTENCE", cfg.EnablePersistence)
	cfg.RequireAuth = getEnvBool("COLLABORATION_REQUIRE_AUTH", cfg.RequireAuth)

	return cfg, nil
}
