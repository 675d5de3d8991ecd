// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts webhook deliveries accepted for processing.
	WebhooksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_webhooks_received_total",
		Help: "Webhook deliveries that passed authentication.",
	})

	// WebhooksApplied counts webhook deliveries that changed job state.
	WebhooksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_webhooks_applied_total",
		Help: "Webhook deliveries that resulted in a state change.",
	})

	// WebhooksDiscarded counts webhook deliveries dropped without effect,
	// partitioned by reason.
	WebhooksDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodwatch_webhooks_discarded_total",
		Help: "Webhook deliveries dropped without a state change.",
	}, []string{"reason"})

	// PollCycles counts completed reconciliation cycles.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_poll_cycles_total",
		Help: "Completed reconciliation poll cycles.",
	})

	// PollJobErrors counts per-job failures inside reconciliation cycles.
	PollJobErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_poll_job_errors_total",
		Help: "Jobs whose status check failed during a poll cycle.",
	})

	// JobsRecovered counts jobs the poller moved to a terminal state after
	// the webhook path missed them.
	JobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_jobs_recovered_total",
		Help: "Jobs driven to a terminal state by the reconciliation poller.",
	})

	// RetryAttempts counts retry-engine attempts by outcome.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodwatch_retry_attempts_total",
		Help: "Retry engine attempts partitioned by outcome.",
	}, []string{"outcome"})

	// StuckJobsDetected counts jobs flagged by the stuck-job sweep.
	StuckJobsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_stuck_jobs_detected_total",
		Help: "Jobs flagged as stuck by the periodic sweep.",
	})

	// NotificationFailures counts notification deliveries that failed.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodwatch_notification_failures_total",
		Help: "Notification deliveries that failed.",
	})

	// StatusFetchDuration observes latency of external status fetches.
	StatusFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vodwatch_status_fetch_duration_seconds",
		Help:    "Latency of external transcoder status fetches.",
		Buckets: prometheus.DefBuckets,
	})
)
