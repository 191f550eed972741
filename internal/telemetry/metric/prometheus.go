package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "savekeep"

// Result labels.
const (
	ResultOK       = "ok"
	ResultPartial  = "partial"
	ResultError    = "error"
	ResultRejected = "rejected"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	SavesTotal       *prometheus.CounterVec
	SaveDuration     *prometheus.HistogramVec
	LoadsTotal       *prometheus.CounterVec
	RewindsTotal     *prometheus.CounterVec
	AutosaveTriggers *prometheus.CounterVec
	ImportsTotal     *prometheus.CounterVec
	PresetChanges    prometheus.Counter
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saves",
			Name:      "created_total",
			Help:      "Save attempts by category and result",
		}, []string{"category", "result"}),
		SaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "saves",
			Name:      "duration_seconds",
			Help:      "Capture plus write latency of successful saves",
			Buckets:   prometheus.ExponentialBuckets(0.001, 3, 8),
		}, []string{"category"}),
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saves",
			Name:      "loads_total",
			Help:      "Save restores by result",
		}, []string{"result"}),
		RewindsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewind",
			Name:      "total",
			Help:      "Rewind attempts by result",
		}, []string{"result"}),
		AutosaveTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "triggers_total",
			Help:      "Autosave threshold crossings by outcome",
		}, []string{"outcome"}),
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saves",
			Name:      "imports_total",
			Help:      "Import attempts by result",
		}, []string{"result"}),
		PresetChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presets",
			Name:      "changes_total",
			Help:      "Config preset set writes",
		}),
	}
	reg.MustRegister(
		r.SavesTotal,
		r.SaveDuration,
		r.LoadsTotal,
		r.RewindsTotal,
		r.AutosaveTriggers,
		r.ImportsTotal,
		r.PresetChanges,
	)
	return r
}

// Registerer exposes the underlying registry for components that register
// their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveSave records one save attempt.
func (r *Registry) ObserveSave(category, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.SavesTotal.WithLabelValues(category, result).Inc()
	if result == ResultOK || result == ResultPartial {
		r.SaveDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	}
}

// IncLoad records one restore attempt.
func (r *Registry) IncLoad(result string) {
	if r == nil {
		return
	}
	r.LoadsTotal.WithLabelValues(result).Inc()
}

// IncRewind records one rewind attempt.
func (r *Registry) IncRewind(result string) {
	if r == nil {
		return
	}
	r.RewindsTotal.WithLabelValues(result).Inc()
}

// IncAutosave records one autosave trigger outcome.
func (r *Registry) IncAutosave(outcome string) {
	if r == nil {
		return
	}
	r.AutosaveTriggers.WithLabelValues(outcome).Inc()
}

// IncImport records one import attempt.
func (r *Registry) IncImport(result string) {
	if r == nil {
		return
	}
	r.ImportsTotal.WithLabelValues(result).Inc()
}

// IncPresetChange records one preset set write.
func (r *Registry) IncPresetChange() {
	if r == nil {
		return
	}
	r.PresetChanges.Inc()
}

// ResultOf maps an error to a result label.
func ResultOf(err error) string {
	if err == nil {
		return ResultOK
	}
	return ResultError
}
