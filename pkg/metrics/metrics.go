// Package metrics exposes prometheus instrumentation for the platform's
// background services, alongside the JSON stats each service reports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the platform's prometheus collectors. One instance is
// created at startup and handed to each component.
type Registry struct {
	reg *prometheus.Registry

	// Rule engine
	EvaluationPasses  prometheus.Counter
	RulesEvaluated    prometheus.Counter
	AlertsTriggered   prometheus.Counter
	EvaluationErrors  prometheus.Counter
	EvaluationSeconds prometheus.Gauge

	// Notification service
	NotificationsSent    *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	RetriesAttempted     prometheus.Counter
	DeliverySeconds      prometheus.Histogram

	// Regulatory subscriber
	EventsProcessed prometheus.Counter
	EventsNotified  prometheus.Counter
	PollFailures    prometheus.Counter

	// Activity feed
	ActivityEvents  prometheus.Counter
	ActivityEvicted prometheus.Counter

	// Scan pool
	ScanJobsClaimed       prometheus.Counter
	ScanJobsCompleted     prometheus.Counter
	ScanJobsFailed        prometheus.Counter
	TransactionsScanned   prometheus.Counter
	FraudAlertsRaised     prometheus.Counter
	StaleClaimsReclaimed  prometheus.Counter
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	r := &Registry{
		reg:                  reg,
		EvaluationPasses:     factory("regfabric_rule_evaluation_passes_total", "Completed rule evaluation passes."),
		RulesEvaluated:       factory("regfabric_rules_evaluated_total", "Rules evaluated across all passes."),
		AlertsTriggered:      factory("regfabric_alerts_triggered_total", "Incidents created by the rule engine."),
		EvaluationErrors:     factory("regfabric_rule_evaluation_errors_total", "Rule evaluation errors."),
		RetriesAttempted:     factory("regfabric_notification_retries_total", "Notification retry attempts."),
		EventsProcessed:      factory("regfabric_regulatory_events_processed_total", "Regulatory events accepted after dedup."),
		EventsNotified:       factory("regfabric_regulatory_events_notified_total", "Subscriber callbacks invoked."),
		PollFailures:         factory("regfabric_regulatory_poll_failures_total", "Upstream monitor poll failures."),
		ActivityEvents:       factory("regfabric_activity_events_total", "Activity events recorded."),
		ActivityEvicted:      factory("regfabric_activity_events_evicted_total", "Activity events evicted by age or ring size."),
		ScanJobsClaimed:      factory("regfabric_scan_jobs_claimed_total", "Scan jobs claimed by workers."),
		ScanJobsCompleted:    factory("regfabric_scan_jobs_completed_total", "Scan jobs completed."),
		ScanJobsFailed:       factory("regfabric_scan_jobs_failed_total", "Scan jobs failed."),
		TransactionsScanned:  factory("regfabric_transactions_scanned_total", "Transactions streamed through fraud rules."),
		FraudAlertsRaised:    factory("regfabric_fraud_alerts_total", "Fraud alerts inserted."),
		StaleClaimsReclaimed: factory("regfabric_scan_stale_claims_reclaimed_total", "Processing jobs returned to queued after a stale claim."),
	}

	r.EvaluationSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "regfabric_rule_evaluation_duration_seconds",
		Help: "Duration of the last evaluation pass.",
	})
	reg.MustRegister(r.EvaluationSeconds)

	r.NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regfabric_notifications_sent_total",
		Help: "Successful deliveries by channel type.",
	}, []string{"channel_type"})
	reg.MustRegister(r.NotificationsSent)

	r.NotificationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regfabric_notification_failures_total",
		Help: "Failed delivery attempts by channel type.",
	}, []string{"channel_type"})
	reg.MustRegister(r.NotificationFailures)

	r.DeliverySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "regfabric_notification_delivery_seconds",
		Help:    "Notification delivery latency.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(r.DeliverySeconds)

	return r
}

// Prometheus returns the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
