package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/cost"
	"github.com/matthewbaird/docagg/internal/router"
	"github.com/matthewbaird/docagg/internal/sqlplan"
)

func TestRouterHooks(t *testing.T) {
	m := New()
	h := m.RouterHooks()

	h.OnPlan(router.PlanEvent{Plan: &sqlplan.ExecutionPlan{}, Cost: cost.Estimate{Total: 1.3}})
	h.OnPlan(router.PlanEvent{Unsupported: errors.New("regex")})
	h.OnPlan(router.PlanEvent{CatalogErr: errors.New("gone")})
	h.OnPath(router.PathEvent{Path: router.PathSQL, Duration: time.Millisecond})
	h.OnPath(router.PathEvent{Path: router.PathFallback, Reason: router.ReasonForced})
	h.OnPath(router.PathEvent{Path: router.PathFallback, Reason: router.ReasonForced})
	h.OnEngineError(&router.EngineError{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlansTotal.WithLabelValues("sql")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlansTotal.WithLabelValues("unsupported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlansTotal.WithLabelValues("catalog_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("sql", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("fallback", "forced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineErrorsTotal))

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	var observed uint64
	for _, mf := range mfs {
		if mf.GetName() == "docagg_pipeline_cost" {
			observed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), observed)
}

func TestForceFallbackGauge(t *testing.T) {
	m := New()
	m.SetForceFallback(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForceFallback))
	m.SetForceFallback(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ForceFallback))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("POST", "/v1/collections/{name}/aggregate", 200, 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body),
		`docagg_http_requests_total{method="POST",route="/v1/collections/{name}/aggregate",status="200"} 1`)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.EngineErrorsTotal.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EngineErrorsTotal))
}
