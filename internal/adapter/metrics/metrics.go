package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayMetrics holds all Prometheus metrics for the event relay.
type RelayMetrics struct {
	EventsEnqueued  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	DeadLetterDepth prometheus.Gauge
	DrainActive     prometheus.Gauge
	Broadcasts      *prometheus.CounterVec
	OpenSessions    prometheus.Gauge
	RequestsDenied  *prometheus.CounterVec
}

// NewRelayMetrics initializes and registers the Prometheus metrics.
func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		EventsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reader_relay",
			Subsystem: "queue",
			Name:      "events_enqueued_total",
			Help:      "Total number of events accepted into the queue, by event type.",
		}, []string{"event_type"}),
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reader_relay",
			Subsystem: "queue",
			Name:      "events_processed_total",
			Help:      "Total number of drain outcomes by status.",
		}, []string{"status"}), // status: processed, retried, dead_lettered
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reader_relay",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of pending events in the primary queue.",
		}),
		DeadLetterDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reader_relay",
			Subsystem: "queue",
			Name:      "dead_letter_depth",
			Help:      "Current number of entries in the dead-letter sink.",
		}),
		DrainActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reader_relay",
			Subsystem: "queue",
			Name:      "drain_active",
			Help:      "Whether a drain cycle is currently running (1 or 0).",
		}),
		Broadcasts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reader_relay",
			Subsystem: "hub",
			Name:      "broadcast_deliveries_total",
			Help:      "Total per-recipient broadcast deliveries by status.",
		}, []string{"status"}), // status: delivered, failed
		OpenSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "reader_relay",
			Subsystem: "hub",
			Name:      "open_sessions",
			Help:      "Number of currently connected socket sessions.",
		}),
		RequestsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reader_relay",
			Subsystem: "session",
			Name:      "requests_denied_total",
			Help:      "Requests rejected before reaching a handler, by reason.",
		}, []string{"reason"}), // reason: forbidden, rate_limited, capacity
	}
}
