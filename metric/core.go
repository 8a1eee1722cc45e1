package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all core session metrics (not component-specific)
type Metrics struct {
	EnvelopesReceived  *prometheus.CounterVec
	EnvelopesProcessed *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	ConnectionsByState *prometheus.GaugeVec
	ReconnectAttempts  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EnvelopesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Subsystem: "envelopes",
				Name:      "received_total",
				Help:      "Total number of envelopes received",
			},
			[]string{"component", "type"},
		),

		EnvelopesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Subsystem: "envelopes",
				Name:      "processed_total",
				Help:      "Total number of envelopes processed",
			},
			[]string{"component", "type", "status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sessioncore",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Envelope processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		ConnectionsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sessioncore",
				Subsystem: "connections",
				Name:      "by_state",
				Help:      "Number of tracked connections in each state",
			},
			[]string{"state"},
		),

		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Subsystem: "connections",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts across all connections",
			},
		),
	}
}
