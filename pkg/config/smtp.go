package config

import "fmt"

// SMTPConfig holds SMTP submission settings for the email channel.
type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	UseTLS    bool
}

// Configured reports whether enough is set to attempt email delivery.
func (c *SMTPConfig) Configured() bool {
	return c.Host != "" && c.FromEmail != ""
}

// LoadSMTPFromEnv loads SMTP configuration from SMTP_* environment variables.
func LoadSMTPFromEnv() (*SMTPConfig, error) {
	port, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid SMTP_PORT: %d out of range", port)
	}
	return &SMTPConfig{
		Host:      getEnvOrDefault("SMTP_HOST", ""),
		Port:      port,
		User:      getEnvOrDefault("SMTP_USER", ""),
		Password:  getEnvOrDefault("SMTP_PASSWORD", ""),
		FromEmail: getEnvOrDefault("SMTP_FROM_EMAIL", ""),
		UseTLS:    getEnvBool("SMTP_USE_TLS", true),
	}, nil
}
