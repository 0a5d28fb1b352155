package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the cohort compiler.
type Metrics struct {
	// Compile latency by stage: compile, classify, build
	CompileLatency *prometheus.HistogramVec

	// Compiled criteria by resource kind
	CriteriaCompiled *prometheus.CounterVec

	// Access tier decisions
	TierDecisions *prometheus.CounterVec

	// Structural anomalies reported back to callers, by kind
	Anomalies *prometheus.CounterVec

	// Tree edits by operation and outcome: ok, not-found, rejected
	Mutations *prometheus.CounterVec

	// Snapshot store operations by outcome
	SnapshotOps *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the cohort metrics on reg. Passing nil uses a fresh
// registry, which keeps tests from colliding on the default one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		CompileLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cohort_compile_duration_seconds",
			Help:    "Duration of cohort compilation stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"stage"}),

		CriteriaCompiled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cohort_criteria_compiled_total",
			Help: "Total criteria compiled into FHIR filters by resource type",
		}, []string{"resource_type"}),

		TierDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cohort_access_tier_decisions_total",
			Help: "Total access tier decisions by tier",
		}, []string{"tier"}),

		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cohort_anomalies_total",
			Help: "Total structural anomalies reported by kind",
		}, []string{"kind"}),

		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cohort_mutations_total",
			Help: "Total criteria tree edits by operation and outcome",
		}, []string{"op", "outcome"}),

		SnapshotOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cohort_snapshot_operations_total",
			Help: "Total snapshot store operations by operation and outcome",
		}, []string{"op", "outcome"}),

		gatherer: reg,
	}
}

// ObserveCompile records the duration of one compilation stage.
func (m *Metrics) ObserveCompile(stage string, d time.Duration) {
	if m != nil {
		m.CompileLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// AddCriteria records n compiled criteria of one resource type.
func (m *Metrics) AddCriteria(resourceType string, n int) {
	if m != nil && n > 0 {
		m.CriteriaCompiled.WithLabelValues(resourceType).Add(float64(n))
	}
}

// IncrementTier records one access tier decision.
func (m *Metrics) IncrementTier(tier string) {
	if m != nil {
		m.TierDecisions.WithLabelValues(tier).Inc()
	}
}

// IncrementAnomaly records one reported anomaly.
func (m *Metrics) IncrementAnomaly(kind string) {
	if m != nil {
		m.Anomalies.WithLabelValues(kind).Inc()
	}
}

// IncrementMutation records one tree edit.
func (m *Metrics) IncrementMutation(op, outcome string) {
	if m != nil {
		m.Mutations.WithLabelValues(op, outcome).Inc()
	}
}

// IncrementSnapshot records a snapshot store call and whether it failed.
func (m *Metrics) IncrementSnapshot(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SnapshotOps.WithLabelValues(op, outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
