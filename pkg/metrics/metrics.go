// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesReceived tracks inbound SMS notifications accepted by the
	// webhook receiver.
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Inbound SMS webhook notifications accepted",
		},
	)

	// DispatchesTotal tracks job submissions by outcome.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatches_total",
			Help: "Job dispatch attempts",
		},
		[]string{"status"},
	)

	// TruncatedItems counts transcript items dropped to fit the payload
	// ceiling.
	TruncatedItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_truncated_items_total",
			Help: "Transcript items dropped by payload truncation",
		},
	)

	// PayloadBytes observes serialized job payload sizes.
	PayloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_payload_bytes",
			Help:    "Serialized job payload size in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	// TurnsTotal tracks completed conversation turns by terminal action.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_turns_total",
			Help: "Completed conversation turns by action",
		},
		[]string{"action"},
	)

	// TurnDuration observes end-to-end worker turn duration.
	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_turn_duration_seconds",
			Help:    "Worker turn duration in seconds",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// TwilioSends tracks outbound message attempts by outcome.
	TwilioSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_twilio_sends_total",
			Help: "Outbound Twilio message attempts",
		},
		[]string{"status"},
	)

	// ContextSaves tracks context store writes by outcome.
	ContextSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_context_saves_total",
			Help: "Context store save operations",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for one completed worker turn.
func RecordTurn(action string, duration float64) {
	TurnsTotal.WithLabelValues(action).Inc()
	TurnDuration.Observe(duration)
}
