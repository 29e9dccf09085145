// Package repl provides the WebSocket-based aggregation console.
package repl

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/repl/autocomplete"
	"github.com/matthewbaird/docagg/internal/repl/executor"
	"github.com/matthewbaird/docagg/internal/repl/meta"
	"github.com/matthewbaird/docagg/internal/repl/session"
	"github.com/matthewbaird/docagg/internal/repl/wire"
	"github.com/matthewbaird/docagg/internal/router"
)

// Deps are the components the console needs.
type Deps struct {
	Router     *router.Router
	Catalog    meta.Catalog
	OnOverride func(forced bool)
	Logger     *slog.Logger
}

// RegisterRoutes registers console HTTP and WebSocket routes on the given router.
func RegisterRoutes(r chi.Router, deps Deps) *session.Manager {
	// 30 min idle, 24 hr max
	sessions := session.NewManager(24*time.Hour, 30*time.Minute)

	metaHandler := meta.New(deps.Catalog, deps.Router.Override())
	metaHandler.OnOverride = deps.OnOverride
	exec := executor.New(deps.Router, metaHandler)
	ac := autocomplete.New(deps.Catalog)

	wsHandler := wire.NewHandler(sessions, exec, ac, deps.Logger)

	r.Route("/api/repl", func(r chi.Router) {
		r.Get("/ws", wsHandler.ServeHTTP)

		// Operator vocabulary for tooling.
		r.Get("/vocabulary", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string][]string{
				"stages":       pipeline.StageNames(),
				"operators":    pipeline.QueryOperators(),
				"accumulators": pipeline.AccumulatorNames(),
				"meta":         meta.Commands,
			})
		})

		// Session create endpoint (REST alternative to WebSocket)
		r.Post("/session", func(w http.ResponseWriter, r *http.Request) {
			sess := sessions.Create()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(sess)
		})
	})
	return sessions
}
