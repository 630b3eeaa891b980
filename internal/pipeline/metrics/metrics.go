package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for pipeline runs.
type Metrics struct {
	// Runs by kind (export, import, validate, preflight) and report status
	Runs *prometheus.CounterVec

	// Run latency by kind
	RunLatency *prometheus.HistogramVec

	// Issues reported by kind and severity
	Issues *prometheus.CounterVec

	// Nodes retained as unmapped on import
	UnmappedNodes prometheus.Counter

	// Documents quarantined because no pack matched
	Quarantined prometheus.Counter

	// Exports refused by preflight
	ExportsBlocked prometheus.Counter

	// Harness case outcomes by pack and result
	HarnessCases *prometheus.CounterVec
}

// New registers pipeline metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mismobridge_pipeline_runs_total",
			Help: "Pipeline runs by kind and report status",
		}, []string{"kind", "status"}),

		RunLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mismobridge_pipeline_run_duration_seconds",
			Help:    "Duration of pipeline runs by kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),

		Issues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mismobridge_pipeline_issues_total",
			Help: "Report issues by run kind and severity",
		}, []string{"kind", "severity"}),

		UnmappedNodes: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_pipeline_unmapped_nodes_total",
			Help: "Document nodes retained as unmapped on import",
		}),

		Quarantined: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_pipeline_quarantined_total",
			Help: "Imported documents quarantined because no pack matched",
		}),

		ExportsBlocked: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_pipeline_exports_blocked_total",
			Help: "Exports refused because preflight failed",
		}),

		HarnessCases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mismobridge_harness_cases_total",
			Help: "Round-trip harness cases by pack and outcome",
		}, []string{"pack_id", "outcome"}),
	}
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(kind, status string, errors, warnings int, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(kind, status).Inc()
	m.RunLatency.WithLabelValues(kind).Observe(d.Seconds())
	if errors > 0 {
		m.Issues.WithLabelValues(kind, "error").Add(float64(errors))
	}
	if warnings > 0 {
		m.Issues.WithLabelValues(kind, "warning").Add(float64(warnings))
	}
}

// AddUnmapped counts unmapped nodes from one import.
func (m *Metrics) AddUnmapped(n int) {
	if m != nil && n > 0 {
		m.UnmappedNodes.Add(float64(n))
	}
}

// IncrementQuarantined records a quarantined document.
func (m *Metrics) IncrementQuarantined() {
	if m != nil {
		m.Quarantined.Inc()
	}
}

// IncrementExportBlocked records an export refused by preflight.
func (m *Metrics) IncrementExportBlocked() {
	if m != nil {
		m.ExportsBlocked.Inc()
	}
}

// AddHarnessCases records harness outcomes for one pack.
func (m *Metrics) AddHarnessCases(packID string, passed, failed, abandoned int) {
	if m == nil {
		return
	}
	m.HarnessCases.WithLabelValues(packID, "passed").Add(float64(passed))
	m.HarnessCases.WithLabelValues(packID, "failed").Add(float64(failed))
	m.HarnessCases.WithLabelValues(packID, "abandoned").Add(float64(abandoned))
}
