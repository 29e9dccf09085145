// Package router executes pipelines. It compiles a pipeline to a single SQL
// statement when every stage translates, and otherwise runs the in-memory
// interpreter. Results are identical either way; only latency differs.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matthewbaird/docagg/internal/catalog"
	"github.com/matthewbaird/docagg/internal/cost"
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/interp"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/sqlplan"
)

// Path identifies how a pipeline was executed.
type Path string

const (
	PathSQL      Path = "sql"
	PathFallback Path = "fallback"
)

// Fallback reasons reported in results, hooks and metrics.
const (
	ReasonForced      = "forced"
	ReasonUnsupported = "unsupported"
	ReasonCatalog     = "catalog_error"
	ReasonEngineError = "engine_error"
)

// Engine is the relational engine boundary. *store.Store implements it.
type Engine interface {
	catalog.Source
	interp.Loader
	CollectionExists(ctx context.Context, name string) (bool, error)
	Query(ctx context.Context, query string, args []any) ([]*document.Document, error)
}

// EngineError reports that the engine rejected or failed a compiled
// statement. It indicates a translation defect.
type EngineError struct {
	Collection string
	Statement  string
	Err        error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine failed compiled statement for %q: %v", e.Collection, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// PlanEvent describes one planning attempt.
type PlanEvent struct {
	Collection  string
	Cost        cost.Estimate
	Plan        *sqlplan.ExecutionPlan // nil when no plan
	Unsupported error                  // why there is no plan
	CatalogErr  error
}

// PathEvent describes one completed execution.
type PathEvent struct {
	Collection string
	Path       Path
	Reason     string // empty for the SQL path
	Documents  int
	Duration   time.Duration
}

// Hooks observe routing decisions. Nil fields are skipped.
type Hooks struct {
	OnPlan        func(PlanEvent)
	OnPath        func(PathEvent)
	OnEngineError func(*EngineError)
}

// ChainHooks calls each hook set in order.
func ChainHooks(hs ...Hooks) Hooks {
	return Hooks{
		OnPlan: func(e PlanEvent) {
			for _, h := range hs {
				if h.OnPlan != nil {
					h.OnPlan(e)
				}
			}
		},
		OnPath: func(e PathEvent) {
			for _, h := range hs {
				if h.OnPath != nil {
					h.OnPath(e)
				}
			}
		},
		OnEngineError: func(e *EngineError) {
			for _, h := range hs {
				if h.OnEngineError != nil {
					h.OnEngineError(e)
				}
			}
		},
	}
}

// Config tunes a Router.
type Config struct {
	MaxStages             int
	FallbackOnEngineError bool
	Hooks                 Hooks
	Logger                *slog.Logger
}

// Result is the outcome of Run.
type Result struct {
	Documents []*document.Document `json:"documents"`
	Path      Path                 `json:"path"`
	Reason    string               `json:"reason,omitempty"`
	Cost      *cost.Estimate       `json:"cost,omitempty"`
	Duration  time.Duration        `json:"duration"`
}

// Router chooses between the SQL path and the interpreter.
type Router struct {
	engine   Engine
	catalog  *catalog.Reader
	builder  *sqlplan.Builder
	interp   *interp.Interpreter
	override *Override
	cfg      Config
	logger   *slog.Logger
}

// New creates a Router. override may be shared with other routers and with
// the operator surface.
func New(engine Engine, override *Override, cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if override == nil {
		override = NewOverride(false)
	}
	return &Router{
		engine:   engine,
		catalog:  catalog.NewReader(engine),
		builder:  sqlplan.NewBuilder(cfg.MaxStages),
		interp:   interp.New(engine),
		override: override,
		cfg:      cfg,
		logger:   logger.With("component", "router"),
	}
}

// Override returns the fallback override this router reads.
func (r *Router) Override() *Override { return r.override }

// Run executes p against collection, honoring the override.
func (r *Router) Run(ctx context.Context, collection string, p pipeline.Pipeline) (*Result, error) {
	return r.Execute(ctx, collection, p, r.override.Forced())
}

// Execute executes p; forceFallback skips planning entirely.
func (r *Router) Execute(ctx context.Context, collection string, p pipeline.Pipeline, forceFallback bool) (*Result, error) {
	start := time.Now()
	if forceFallback {
		return r.fallback(ctx, collection, p, ReasonForced, nil, start)
	}

	ev, _ := r.plan(ctx, collection, p)
	if ev.Plan == nil {
		reason := ReasonUnsupported
		if ev.CatalogErr != nil {
			reason = ReasonCatalog
		}
		return r.fallback(ctx, collection, p, reason, &ev.Cost, start)
	}

	docs, err := r.engine.Query(ctx, ev.Plan.Statement, ev.Plan.Args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		engErr := &EngineError{Collection: collection, Statement: ev.Plan.Statement, Err: err}
		r.logger.Error("compiled statement failed",
			"collection", collection, "statement", ev.Plan.Statement, "error", err)
		if r.cfg.Hooks.OnEngineError != nil {
			r.cfg.Hooks.OnEngineError(engErr)
		}
		if !r.cfg.FallbackOnEngineError {
			return nil, engErr
		}
		return r.fallback(ctx, collection, p, ReasonEngineError, &ev.Cost, start)
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	res := &Result{Documents: docs, Path: PathSQL, Cost: &ev.Cost, Duration: time.Since(start)}
	r.finish(collection, res)
	return res, nil
}

// plan reads the catalog, estimates cost and tries to build a statement.
func (r *Router) plan(ctx context.Context, collection string, p pipeline.Pipeline) (PlanEvent, catalog.IndexedFieldSet) {
	ev := PlanEvent{Collection: collection}

	set, err := r.catalog.Fetch(ctx, collection)
	if err != nil {
		r.logger.Warn("index catalog unavailable, treating fields as unindexed",
			"collection", collection, "error", err)
		ev.CatalogErr = err
		set = catalog.IndexedFieldSet{}
	}
	ev.Cost = cost.EstimatePipeline(p, set)

	if ev.CatalogErr != nil {
		ev.Unsupported = &sqlplan.UnsupportedError{Stage: -1, Reason: "index catalog unavailable"}
	} else {
		foreign, err := r.foreignCollections(ctx, p)
		if err != nil {
			ev.Unsupported = &sqlplan.UnsupportedError{Stage: -1, Reason: err.Error()}
		} else {
			ev.Plan, ev.Unsupported = r.builder.Build(sqlplan.Request{Collection: collection, Pipeline: p, Foreign: foreign})
		}
	}

	attrs := []any{"collection", collection, "cost", ev.Cost.Total}
	if ev.Plan != nil {
		attrs = append(attrs, "statement", ev.Plan.Statement)
	} else {
		attrs = append(attrs, "unsupported", ev.Unsupported)
	}
	r.logger.Debug("planned pipeline", attrs...)

	if r.cfg.Hooks.OnPlan != nil {
		r.cfg.Hooks.OnPlan(ev)
	}
	return ev, set
}

// foreignCollections reports which $lookup targets exist.
func (r *Router) foreignCollections(ctx context.Context, p pipeline.Pipeline) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, st := range p {
		l, ok := st.(*pipeline.Lookup)
		if !ok {
			continue
		}
		if _, seen := out[l.From]; seen {
			continue
		}
		exists, err := r.engine.CollectionExists(ctx, l.From)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", l.From, err)
		}
		out[l.From] = exists
	}
	return out, nil
}

func (r *Router) fallback(ctx context.Context, collection string, p pipeline.Pipeline, reason string, est *cost.Estimate, start time.Time) (*Result, error) {
	docs, err := r.interp.Execute(ctx, collection, p)
	if err != nil {
		return nil, err
	}
	res := &Result{Documents: docs, Path: PathFallback, Reason: reason, Cost: est, Duration: time.Since(start)}
	r.finish(collection, res)
	return res, nil
}

func (r *Router) finish(collection string, res *Result) {
	r.logger.Debug("executed pipeline",
		"collection", collection, "path", string(res.Path), "reason", res.Reason,
		"documents", len(res.Documents), "duration", res.Duration)
	if r.cfg.Hooks.OnPath != nil {
		r.cfg.Hooks.OnPath(PathEvent{
			Collection: collection,
			Path:       res.Path,
			Reason:     res.Reason,
			Documents:  len(res.Documents),
			Duration:   res.Duration,
		})
	}
}

// Explanation describes how Run would execute a pipeline.
type Explanation struct {
	Collection    string          `json:"collection"`
	Forced        bool            `json:"forced"`
	IndexedFields []string        `json:"indexedFields"`
	CatalogError  string          `json:"catalogError,omitempty"`
	Cost          cost.Estimate   `json:"cost"`
	Path          Path            `json:"path"`
	Statement     string          `json:"statement,omitempty"`
	Params        int             `json:"params,omitempty"`
	Unsupported   *UnsupportedRef `json:"unsupported,omitempty"`
}

// UnsupportedRef names the stage that prevented a SQL plan.
type UnsupportedRef struct {
	Stage  int    `json:"stage"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

// Explain plans p without executing it.
func (r *Router) Explain(ctx context.Context, collection string, p pipeline.Pipeline) (*Explanation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ex := &Explanation{Collection: collection, Forced: r.override.Forced(), IndexedFields: []string{}}
	ev, set := r.plan(ctx, collection, p)
	if ev.CatalogErr != nil {
		ex.CatalogError = ev.CatalogErr.Error()
	}
	for _, path := range set.Paths() {
		ex.IndexedFields = append(ex.IndexedFields, string(path))
	}
	ex.Cost = ev.Cost
	switch {
	case ex.Forced:
		ex.Path = PathFallback
	case ev.Plan != nil:
		ex.Path = PathSQL
	default:
		ex.Path = PathFallback
	}
	if ev.Plan != nil {
		ex.Statement = ev.Plan.Statement
		ex.Params = len(ev.Plan.Args)
	}
	var ue *sqlplan.UnsupportedError
	if errors.As(ev.Unsupported, &ue) {
		ex.Unsupported = &UnsupportedRef{Stage: ue.Stage, Kind: ue.Kind, Reason: ue.Reason}
	}
	return ex, nil
}
