package models

import "time"

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

// Supported notification channel types.
const (
	ChannelEmail     ChannelType = "email"
	ChannelWebhook   ChannelType = "webhook"
	ChannelSlack     ChannelType = "slack"
	ChannelSMS       ChannelType = "sms"
	ChannelPagerDuty ChannelType = "pagerduty"
)

// ValidChannelType reports whether t is a known channel type.
func ValidChannelType(t ChannelType) bool {
	switch t {
	case ChannelEmail, ChannelWebhook, ChannelSlack, ChannelSMS, ChannelPagerDuty:
		return true
	}
	return false
}

// NotificationChannel is an operator-configured delivery endpoint
// referenced by alert rules.
type NotificationChannel struct {
	ID           string      `db:"channel_id" json:"channel_id"`
	Type         ChannelType `db:"channel_type" json:"channel_type"`
	Name         string      `db:"channel_name" json:"channel_name"`
	Config       JSONMap     `db:"configuration" json:"configuration"`
	Enabled      bool        `db:"is_enabled" json:"is_enabled"`
	LastTestedAt *time.Time  `db:"last_tested_at" json:"last_tested_at,omitempty"`
	TestStatus   *string     `db:"test_status" json:"test_status,omitempty"`
}

// DeliveryStatus is the lifecycle state of a notification attempt.
type DeliveryStatus string

// Delivery statuses. Terminal states are delivered and (retry-exhausted) failed.
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryRetrying  DeliveryStatus = "retrying"
)

// NotificationAttempt is a persisted delivery attempt for an incident
// through one channel.
type NotificationAttempt struct {
	ID          string         `db:"notification_id" json:"notification_id"`
	IncidentID  string         `db:"incident_id" json:"incident_id"`
	ChannelID   string         `db:"channel_id" json:"channel_id"`
	Status      DeliveryStatus `db:"delivery_status" json:"delivery_status"`
	RetryCount  int            `db:"retry_count" json:"retry_count"`
	Error       *string        `db:"error_message" json:"error_message,omitempty"`
	SentAt      *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	NextRetryAt *time.Time     `db:"next_retry_at" json:"next_retry_at,omitempty"`
}

// AlertPayload is the channel-independent content of a notification.
type AlertPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	RuleName string   `json:"rule_name,omitempty"`
	Data     JSONMap  `json:"data,omitempty"`
}
