package observability

import (
	"streampass/core/events"
)

// MetricsEmitter forwards ledger events to an inner emitter while counting
// them in the Prometheus registry.
type MetricsEmitter struct {
	inner events.Emitter
}

// NewMetricsEmitter wraps the inner emitter. A nil inner emitter counts
// events without forwarding them.
func NewMetricsEmitter(inner events.Emitter) *MetricsEmitter {
	if inner == nil {
		inner = events.NoopEmitter{}
	}
	return &MetricsEmitter{inner: inner}
}

// Emit counts the event and forwards it.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	LedgerMetrics().RecordEvent(evt.EventType())
	m.inner.Emit(evt)
}
