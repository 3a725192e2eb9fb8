// Package metrics exposes Prometheus metrics for script execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all jsbox Prometheus collectors. A nil *Metrics is valid and
// records nothing, so instrumentation points never need nil checks.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionSeconds  prometheus.Histogram
	TerminationsTotal *prometheus.CounterVec
	CompileErrors     prometheus.Counter
	ScriptsCompiled   prometheus.Counter
	ContextsActive    prometheus.Gauge
	ExecutionsActive  prometheus.Gauge
	HeapPressureBytes prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_executions_total",
				Help: "Script executions by final status",
			},
			[]string{"status"},
		),
		ExecutionSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbox_execution_duration_seconds",
				Help:    "Wall-clock duration of script executions",
				Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		TerminationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_terminations_total",
				Help: "Watchdog-forced terminations by exhausted budget",
			},
			[]string{"reason"},
		),
		CompileErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jsbox_compile_errors_total",
				Help: "Scripts rejected with a guest compile diagnostic",
			},
		),
		ScriptsCompiled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jsbox_scripts_compiled_total",
				Help: "Successfully compiled script units",
			},
		),
		ContextsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbox_contexts_active",
				Help: "Live execution contexts",
			},
		),
		ExecutionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbox_executions_active",
				Help: "Executions currently registered with the watchdog",
			},
		),
		HeapPressureBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbox_heap_pressure_bytes",
				Help: "External heap-pressure charges held by weak registries",
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionSeconds,
		m.TerminationsTotal,
		m.CompileErrors,
		m.ScriptsCompiled,
		m.ContextsActive,
		m.ExecutionsActive,
		m.HeapPressureBytes,
	)
	return m
}

// ObserveExecution records one finished execution.
func (m *Metrics) ObserveExecution(status string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionSeconds.Observe(seconds)
}

// ObserveTermination records one watchdog-forced abort.
func (m *Metrics) ObserveTermination(reason string) {
	if m == nil {
		return
	}
	m.TerminationsTotal.WithLabelValues(reason).Inc()
}

// IncCompileError counts one rejected compilation.
func (m *Metrics) IncCompileError() {
	if m == nil {
		return
	}
	m.CompileErrors.Inc()
}

// IncScriptCompiled counts one compiled script unit.
func (m *Metrics) IncScriptCompiled() {
	if m == nil {
		return
	}
	m.ScriptsCompiled.Inc()
}

// AddContexts moves the live-context gauge.
func (m *Metrics) AddContexts(delta float64) {
	if m == nil {
		return
	}
	m.ContextsActive.Add(delta)
}

// AddActiveExecutions moves the registered-execution gauge.
func (m *Metrics) AddActiveExecutions(delta float64) {
	if m == nil {
		return
	}
	m.ExecutionsActive.Add(delta)
}

// SetHeapPressure reports the current external charge total.
func (m *Metrics) SetHeapPressure(bytes float64) {
	if m == nil {
		return
	}
	m.HeapPressureBytes.Set(bytes)
}
