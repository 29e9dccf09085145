// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matthewbaird/docagg/internal/activity"
	"github.com/matthewbaird/docagg/internal/metrics"
	"github.com/matthewbaird/docagg/internal/repl"
	"github.com/matthewbaird/docagg/internal/router"
	"github.com/matthewbaird/docagg/internal/store"
)

// Config holds server configuration.
type Config struct {
	Port    int
	Store   *store.Store
	Router  *router.Router
	Metrics *metrics.Metrics
	Runs    *activity.MemoryStore // optional run log
	Logger  *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	store   *store.Store
	router  *router.Router
	metrics *metrics.Metrics
	runs    *activity.MemoryStore
	logger  *slog.Logger
	handler http.Handler
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   cfg.Store,
		router:  cfg.Router,
		metrics: cfg.Metrics,
		runs:    cfg.Runs,
		logger:  logger.With("component", "http"),
	}
	if s.metrics != nil {
		s.metrics.SetForceFallback(s.router.Override().Forced())
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recovery)
	r.Use(s.accessLog)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/collections/{name}", func(r chi.Router) {
			r.Post("/aggregate", s.aggregate)
			r.Post("/explain", s.explain)
			r.Post("/documents", s.insertDocuments)
			r.Post("/indexes", s.createIndex)
			r.Get("/indexes", s.listIndexes)
		})
		r.Get("/collections", s.listCollections)
		r.Get("/router/fallback", s.getFallback)
		r.Put("/router/fallback", s.putFallback)
		if s.runs != nil {
			r.Get("/runs", s.listRuns)
		}
	})

	repl.RegisterRoutes(r, repl.Deps{
		Router:     s.router,
		Catalog:    s.store,
		OnOverride: s.overrideChanged,
		Logger:     s.logger,
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) overrideChanged(forced bool) {
	s.logger.Info("fallback override changed", "forced", forced)
	if s.metrics != nil {
		s.metrics.SetForceFallback(forced)
	}
}

// Run starts the HTTP server and shuts it down when ctx is done.
func Run(ctx context.Context, cfg Config) error {
	s := New(cfg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	s.logger.Info("starting server", "addr", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
