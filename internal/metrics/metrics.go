// Package metrics exposes the engine's Prometheus collectors.
// Grounded on chidi150c-coinbase's metrics.go (package-level
// CounterVec/Gauge/Histogram collectors registered once, with small
// typed Inc/Set/Observe helpers), adapted to an instance-bound
// *prometheus.Registry rather than the global default registry so
// tests can construct isolated Metrics values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine updates.
type Metrics struct {
	Registry *prometheus.Registry

	EventsProcessedTotal *prometheus.CounterVec
	SinkWriteErrorsTotal *prometheus.CounterVec
	SinkDegraded         prometheus.Gauge

	Layer1LatencySeconds prometheus.Histogram
	Layer1TriggersTotal  *prometheus.CounterVec

	EscalationsTotal *prometheus.CounterVec

	OpenPositionsGauge prometheus.Gauge
	RuleStoreSizeGauge prometheus.Gauge

	AdvisoryCallSeconds *prometheus.HistogramVec
	AdvisoryTimeoutsTotal *prometheus.CounterVec
}

// New creates a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		EventsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxengine_events_processed_total", Help: "Event records written by the sink, by kind."},
			[]string{"kind"},
		),
		SinkWriteErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxengine_sink_write_errors_total", Help: "Sink writer failures, by writer name."},
			[]string{"writer"},
		),
		SinkDegraded: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxengine_sink_degraded", Help: "1 when the event sink buffer is exhausted and the engine is suppressing new entries."},
		),

		Layer1LatencySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fxengine_layer1_latency_seconds",
				Help:    "Per-tick Layer-1 emergency-check latency.",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us .. ~200ms
			},
		),
		Layer1TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxengine_layer1_triggers_total", Help: "Layer-1 emergency closes, by reason."},
			[]string{"reason"},
		),

		EscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxengine_layer2_escalations_total", Help: "Layer-2 anomaly escalations, by trigger and severity."},
			[]string{"trigger", "severity"},
		),

		OpenPositionsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxengine_open_positions", Help: "Currently open positions."},
		),
		RuleStoreSizeGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fxengine_rule_store_size", Help: "Number of StructuredRules retained in the rule store history."},
		),

		AdvisoryCallSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fxengine_advisory_call_seconds",
				Help:    "Advisory oracle call latency, by call type (periodic|emergency).",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call_type"},
		),
		AdvisoryTimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fxengine_advisory_timeouts_total", Help: "Advisory oracle calls that fell back to a safe default, by call type."},
			[]string{"call_type"},
		),
	}

	reg.MustRegister(
		m.EventsProcessedTotal, m.SinkWriteErrorsTotal, m.SinkDegraded,
		m.Layer1LatencySeconds, m.Layer1TriggersTotal,
		m.EscalationsTotal,
		m.OpenPositionsGauge, m.RuleStoreSizeGauge,
		m.AdvisoryCallSeconds, m.AdvisoryTimeoutsTotal,
	)
	return m
}

// ObserveSinkDegraded mirrors a sink's Degraded() bool onto the gauge.
func (m *Metrics) ObserveSinkDegraded(degraded bool) {
	if degraded {
		m.SinkDegraded.Set(1)
		return
	}
	m.SinkDegraded.Set(0)
}
