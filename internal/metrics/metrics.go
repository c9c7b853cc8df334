// Package metrics exposes Prometheus instrumentation for the session layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aide",
		Name:      "sessions_active",
		Help:      "Number of currently registered websocket sessions",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "connections_total",
		Help:      "Total accepted websocket connections",
	})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "auth_failures_total",
		Help:      "Rejected connection attempts by reason",
	}, []string{"reason"})

	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "events_sent_total",
		Help:      "Outbound session events by type",
	}, []string{"type"})

	relayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aide",
		Name:      "relay_duration_seconds",
		Help:      "Wall time spent relaying a single utterance to the oracle",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	relaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "relays_total",
		Help:      "Completed relay attempts by outcome",
	}, []string{"outcome"})

	livenessTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aide",
		Name:      "liveness_timeouts_total",
		Help:      "Sessions terminated after a missed ping interval",
	})
)

// SessionOpened records a session entering the registry.
func SessionOpened() {
	connectionsTotal.Inc()
	activeSessions.Inc()
}

// SessionClosed records a session leaving the registry.
func SessionClosed() {
	activeSessions.Dec()
}

// RecordAuthFailure counts a rejected connection attempt.
func RecordAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

// RecordEventSent counts an outbound event by type.
func RecordEventSent(eventType string) {
	eventsSent.WithLabelValues(eventType).Inc()
}

// RecordRelay records one relay attempt with its outcome and duration.
func RecordRelay(outcome string, seconds float64) {
	relaysTotal.WithLabelValues(outcome).Inc()
	relayDuration.Observe(seconds)
}

// RecordLivenessTimeout counts a session terminated for missing a ping.
func RecordLivenessTimeout() {
	livenessTimeouts.Inc()
}
