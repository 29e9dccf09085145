// Package metrics exposes Prometheus instrumentation for the router and
// the HTTP API.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matthewbaird/docagg/internal/router"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// RunsTotal counts pipeline executions by path and fallback reason.
	RunsTotal *prometheus.CounterVec
	// RunDuration is the latency of pipeline executions by path.
	RunDuration *prometheus.HistogramVec
	// PlansTotal counts planning attempts by outcome.
	PlansTotal *prometheus.CounterVec
	// EngineErrorsTotal counts compiled statements the engine rejected.
	EngineErrorsTotal prometheus.Counter
	// PipelineCost is the advisory cost estimate of planned pipelines.
	PipelineCost prometheus.Histogram
	// ForceFallback mirrors the override (1 = forced).
	ForceFallback prometheus.Gauge

	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal *prometheus.CounterVec
	// RequestDuration is the latency of HTTP requests.
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docagg_pipeline_runs_total",
				Help: "Total number of pipeline executions",
			},
			[]string{"path", "reason"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docagg_pipeline_run_duration_seconds",
				Help:    "Pipeline execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		PlansTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docagg_pipeline_plans_total",
				Help: "Total number of planning attempts",
			},
			[]string{"outcome"},
		),
		EngineErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "docagg_engine_errors_total",
			Help: "Total number of compiled statements that failed in the engine",
		}),
		PipelineCost: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docagg_pipeline_cost",
			Help:    "Advisory cost estimate of planned pipelines",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		ForceFallback: f.NewGauge(prometheus.GaugeOpts{
			Name: "docagg_force_fallback",
			Help: "Whether the fallback path is forced (1) or not (0)",
		}),
		RequestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docagg_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docagg_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RouterHooks returns router hooks that record plans, paths and engine
// errors.
func (m *Metrics) RouterHooks() router.Hooks {
	return router.Hooks{
		OnPlan: func(e router.PlanEvent) {
			outcome := "sql"
			switch {
			case e.CatalogErr != nil:
				outcome = "catalog_error"
			case e.Plan == nil:
				outcome = "unsupported"
			}
			m.PlansTotal.WithLabelValues(outcome).Inc()
			m.PipelineCost.Observe(e.Cost.Total)
		},
		OnPath: func(e router.PathEvent) {
			reason := e.Reason
			if reason == "" {
				reason = "none"
			}
			m.RunsTotal.WithLabelValues(string(e.Path), reason).Inc()
			m.RunDuration.WithLabelValues(string(e.Path)).Observe(e.Duration.Seconds())
		},
		OnEngineError: func(*router.EngineError) {
			m.EngineErrorsTotal.Inc()
		},
	}
}

// SetForceFallback records the override state.
func (m *Metrics) SetForceFallback(force bool) {
	if force {
		m.ForceFallback.Set(1)
		return
	}
	m.ForceFallback.Set(0)
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.RequestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(seconds)
}
