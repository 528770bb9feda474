// Package metrics provides Prometheus metrics for the flat indexer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flatx"

// Metrics holds all Prometheus metrics of one process.
type Metrics struct {
	Registry *prometheus.Registry

	RebuildsTotal   *prometheus.CounterVec
	RebuildDuration *prometheus.HistogramVec
	RowsSwapped     *prometheus.CounterVec
	SwapFailures    *prometheus.CounterVec
	SchemaDrifts    *prometheus.CounterVec
	HookCalls       *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec
	StoresBuilt     *prometheus.GaugeVec
}

// New creates the metrics and registers them on a fresh registry together
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the metrics on reg. Tests pass their own
// registry so metrics never collide across cases.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RebuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "total",
			Help:      "Store rebuilds by entity type and result",
		}, []string{"entity_type", "result"}),
		RebuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Duration of one store rebuild in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"entity_type"}),
		RowsSwapped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "rows_total",
			Help:      "Rows moved from staging into live flat tables",
		}, []string{"entity_type"}),
		SwapFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "failures_total",
			Help:      "Swap transactions rolled back",
		}, []string{"entity_type"}),
		SchemaDrifts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "schema_drift_total",
			Help:      "Rebuilds restarted because staging columns drifted",
		}, []string{"entity_type"}),
		HookCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incremental",
			Name:      "calls_total",
			Help:      "Incremental hook invocations by hook and outcome",
		}, []string{"entity_type", "hook", "outcome"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Domain events dispatched by kind and result",
		}, []string{"kind", "result"}),
		StoresBuilt: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flag",
			Name:      "store_built",
			Help:      "1 when the store's flat table is built",
		}, []string{"entity_type", "store"}),
	}
}

// Result maps an error to a label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRebuild records one finished store rebuild.
func (m *Metrics) ObserveRebuild(entityType string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(entityType, Result(err)).Inc()
	if err == nil {
		m.RebuildDuration.WithLabelValues(entityType).Observe(time.Since(start).Seconds())
	}
}

// Hook records one incremental hook call.
func (m *Metrics) Hook(entityType, hook, outcome string) {
	if m == nil {
		return
	}
	m.HookCalls.WithLabelValues(entityType, hook, outcome).Inc()
}

// Event records one dispatched event.
func (m *Metrics) Event(kind string, err error) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, Result(err)).Inc()
}
