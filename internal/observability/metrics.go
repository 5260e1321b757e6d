// Package observability holds the Prometheus collectors shared by the service.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "activity_weather"

var (
	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook events received, by object/aspect type and whether they were dispatched.",
	}, []string{"object_type", "aspect_type", "dispatched"})

	enrichmentOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "outcomes_total",
		Help:      "Terminal enrichment outcomes by status and reason.",
	}, []string{"status", "reason"})

	enrichmentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "enrichment",
		Name:      "duration_seconds",
		Help:      "Time spent processing a single webhook event.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"status"})

	weatherRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "weather",
		Name:      "requests_total",
		Help:      "Weather lookups by selected mode and result.",
	}, []string{"mode", "result"})

	reconcileResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "reconcile_total",
		Help:      "Subscription reconciliation runs by result.",
	}, []string{"result"})

	breakerStateChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "circuit_breaker_state_changes_total",
		Help:      "Circuit breaker transitions by breaker name and new state.",
	}, []string{"name", "state"})
)

func init() {
	prometheus.MustRegister(
		webhookEvents,
		enrichmentOutcomes,
		enrichmentDuration,
		weatherRequests,
		reconcileResults,
		breakerStateChanges,
	)
}

// RecordWebhookEvent counts an inbound webhook event.
func RecordWebhookEvent(objectType, aspectType string, dispatched bool) {
	webhookEvents.WithLabelValues(objectType, aspectType, strconv.FormatBool(dispatched)).Inc()
}

// RecordEnrichment counts a terminal processing outcome and its latency.
func RecordEnrichment(status, reason string, elapsed time.Duration) {
	enrichmentOutcomes.WithLabelValues(status, reason).Inc()
	enrichmentDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func RecordWeatherRequest(mode, result string) {
	weatherRequests.WithLabelValues(mode, result).Inc()
}

func RecordReconcile(result string) {
	reconcileResults.WithLabelValues(result).Inc()
}

func RecordBreakerState(name, state string) {
	breakerStateChanges.WithLabelValues(name, state).Inc()
}
