package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	events        *prometheus.CounterVec
	flowOps       *prometheus.CounterVec
	distributions prometheus.Counter
	replications  *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics
)

// LedgerMetrics returns the lazily-initialised metrics registry tracking
// ledger activity.
func LedgerMetrics() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Count of emitted ledger events segmented by type.",
			}, []string{"type"}),
			flowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "flow",
				Name:      "operations_total",
				Help:      "Count of flow operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			distributions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "rewards",
				Name:      "distributions_total",
				Help:      "Count of completed pro-rata reward distributions.",
			}),
			replications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streampass",
				Subsystem: "replication",
				Name:      "intents_total",
				Help:      "Count of replication intents segmented by direction and outcome.",
			}, []string{"direction", "outcome"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.events,
			ledgerRegistry.flowOps,
			ledgerRegistry.distributions,
			ledgerRegistry.replications,
		)
	})
	return ledgerRegistry
}

// RecordEvent increments the event counter for the emitted type.
func (m *ledgerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

// RecordFlowOp increments the flow operation counter.
func (m *ledgerMetrics) RecordFlowOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.flowOps.WithLabelValues(operation, outcome).Inc()
}

// RecordDistribution increments the completed distribution counter.
func (m *ledgerMetrics) RecordDistribution() {
	if m == nil {
		return
	}
	m.distributions.Inc()
}

// RecordReplication increments the replication intent counter.
func (m *ledgerMetrics) RecordReplication(direction, outcome string) {
	if m == nil {
		return
	}
	m.replications.WithLabelValues(direction, outcome).Inc()
}
