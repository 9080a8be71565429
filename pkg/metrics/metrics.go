package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Ledger metrics
	LedgerOperations *prometheus.CounterVec
	LedgerRecords    prometheus.Gauge
	LedgerUsers      prometheus.Gauge
	LedgerHeight     prometheus.Gauge

	// Journal metrics
	JournalOperations *prometheus.CounterVec
	JournalLatency    *prometheus.HistogramVec

	// Relay metrics
	RelayEventsPublished prometheus.Counter
	RelayEventsFailed    prometheus.Counter
	RelayPublishLatency  prometheus.Histogram
	RelayRetries         *prometheus.CounterVec
	RelayCursor          prometheus.Gauge
}

// NewMetrics creates all application metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LedgerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_operations_total",
			Help:      "Total number of ledger operations by outcome",
		}, []string{"operation", "status"}),
		LedgerRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_records",
			Help:      "Current value of the record counter",
		}),
		LedgerUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_registered_users",
			Help:      "Number of registered identities",
		}),
		LedgerHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_height",
			Help:      "Number of committed transactions",
		}),

		JournalOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "journal_operations_total",
			Help:      "Total number of journal operations",
		}, []string{"operation", "status"}),
		JournalLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "journal_operation_duration_seconds",
			Help:      "Duration of journal operations",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		RelayEventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_events_published_total",
			Help:      "Total number of audit events published to the broker",
		}),
		RelayEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_events_failed_total",
			Help:      "Total number of audit events that exhausted publish retries",
		}),
		RelayPublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_batch_duration_seconds",
			Help:      "Time spent relaying one batch of audit events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		RelayRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_retry_attempts_total",
			Help:      "Total number of publish retries",
		}, []string{"tag"}),
		RelayCursor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_cursor",
			Help:      "Next journal sequence the relay will publish",
		}),
	}
}
