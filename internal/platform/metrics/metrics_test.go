package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCompile("compile", time.Millisecond)
		m.AddCriteria("Patient", 2)
		m.IncrementTier("Nominatif")
		m.IncrementAnomaly("orphan")
		m.IncrementSnapshot("save", nil)
		m.IncrementMutation("addLeaf", "ok")
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AddCriteria("Patient", 2)
	m.AddCriteria("Patient", 0)
	m.AddCriteria("Condition", 1)
	m.IncrementTier("Pseudonymisé")
	m.IncrementAnomaly("invalid-leaf")
	m.IncrementAnomaly("invalid-leaf")
	m.IncrementSnapshot("save", nil)
	m.IncrementSnapshot("save", errors.New("boom"))
	m.IncrementMutation("deleteGroup", "rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CriteriaCompiled.WithLabelValues("Patient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CriteriaCompiled.WithLabelValues("Condition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierDecisions.WithLabelValues("Pseudonymisé")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("invalid-leaf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOps.WithLabelValues("save", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOps.WithLabelValues("save", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("deleteGroup", "rejected")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveCompile("compile", 2*time.Millisecond)
	m.IncrementTier("Nominatif")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cohort_compile_duration_seconds_count")
	assert.Contains(t, body, `cohort_access_tier_decisions_total{tier="Nominatif"} 1`)
}
