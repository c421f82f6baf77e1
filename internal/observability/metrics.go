// Package observability holds the Prometheus collectors shared across the relay.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhookOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_relay",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook events handled, labeled by aspect type and terminal outcome.",
	}, []string{"aspect", "outcome"})

	webhookRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_relay",
		Subsystem: "webhook",
		Name:      "rejected_total",
		Help:      "Webhook requests answered with a non-200 status, labeled by reason.",
	}, []string{"reason"})

	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "strava_relay",
		Subsystem: "webhook",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent resolving credentials, exchanging tokens and mutating the activity.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	upstreamCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_relay",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Requests sent to Strava, labeled by operation and response status.",
	}, []string{"operation", "status"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strava_relay",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of requests sent to Strava.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"operation"})

	publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strava_relay",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Mutation events that could not be written to Kafka, labeled by event type.",
	}, []string{"event_type"})

	accountsLinked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strava_relay",
		Subsystem: "linking",
		Name:      "accounts_linked_total",
		Help:      "Athletes whose refresh token was stored by the OAuth callback.",
	})
)

func init() {
	prometheus.MustRegister(webhookOutcomes, webhookRejections, dispatchDuration, upstreamCalls, upstreamDuration, publishFailures, accountsLinked)
}

// RecordWebhookOutcome counts one dispatched event.
func RecordWebhookOutcome(aspect, outcome string, elapsed time.Duration) {
	if aspect == "" {
		aspect = "unknown"
	}
	webhookOutcomes.WithLabelValues(aspect, outcome).Inc()
	dispatchDuration.Observe(elapsed.Seconds())
}

// RecordWebhookRejected counts a verification or parse failure.
func RecordWebhookRejected(reason string) {
	webhookRejections.WithLabelValues(reason).Inc()
}

// RecordUpstreamCall counts one Strava request. status is the HTTP status code or "error".
func RecordUpstreamCall(operation, status string, elapsed time.Duration) {
	upstreamCalls.WithLabelValues(operation, status).Inc()
	upstreamDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordPublishFailure counts an event dropped by the publisher.
func RecordPublishFailure(eventType string) {
	publishFailures.WithLabelValues(eventType).Inc()
}

// RecordAccountLinked counts a successful OAuth callback.
func RecordAccountLinked() {
	accountsLinked.Inc()
}
