// Package metrics holds the Prometheus collectors Warren exports on the
// status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chat traffic
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_messages_sent_total",
			Help: "Total chat lines sent",
		},
		[]string{"mode"}, // "broker" or "standalone"
	)

	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_messages_received_total",
			Help: "Total chat messages consumed from the inbound queue",
		},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_decode_errors_total",
			Help: "Total inbound payloads that could not be decoded",
		},
	)

	// Broker connection
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_broker_connect_attempts_total",
			Help: "Broker dial attempts by outcome",
		},
		[]string{"result"}, // "ok", "retry", "failed"
	)

	PublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_publish_latency_seconds",
			Help:    "Broker publish latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
	)

	Standalone = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_standalone",
			Help: "1 while the session runs without a broker",
		},
	)
)
