// Package bench runs a pipeline repeatedly on both execution paths,
// checks that they agree and reports latency per path.
package bench

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/router"
)

// Executor runs a pipeline on a chosen path. *router.Router implements it.
type Executor interface {
	Execute(ctx context.Context, collection string, p pipeline.Pipeline, forceFallback bool) (*router.Result, error)
}

// Config tunes a benchmark run.
type Config struct {
	Workers    int
	Iterations int // runs per path
	Logger     *slog.Logger
}

// PathStats summarizes the runs of one requested path.
type PathStats struct {
	Requested string        `json:"requested"`
	Path      string        `json:"path"`             // path that actually ran
	Reason    string        `json:"reason,omitempty"` // fallback reason, if any
	Runs      int           `json:"runs"`
	Documents int           `json:"documents"`
	Min       time.Duration `json:"min"`
	Mean      time.Duration `json:"mean"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	Max       time.Duration `json:"max"`
}

// Report is the outcome of Run.
type Report struct {
	Collection string    `json:"collection"`
	Iterations int       `json:"iterations"`
	Workers    int       `json:"workers"`
	SQL        PathStats `json:"sql"`
	Fallback   PathStats `json:"fallback"`
	Equivalent bool      `json:"equivalent"`
	Mismatch   string    `json:"mismatch,omitempty"`
	Speedup    float64   `json:"speedup"` // fallback mean / sql mean
}

// Runner executes benchmarks.
type Runner struct {
	exec   Executor
	cfg    Config
	logger *slog.Logger
}

// New creates a Runner.
func New(exec Executor, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{exec: exec, cfg: cfg, logger: logger.With("component", "bench")}
}

type sample struct {
	res *router.Result
	err error
}

// Run executes p Iterations times per path on a bounded worker pool.
func (r *Runner) Run(ctx context.Context, collection string, p pipeline.Pipeline) (*Report, error) {
	pool, err := ants.NewPool(r.cfg.Workers, ants.WithPanicHandler(func(v any) {
		r.logger.Error("benchmark task panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		samples = map[bool][]sample{}
	)
	for i := 0; i < r.cfg.Iterations; i++ {
		for _, force := range []bool{false, true} {
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				var s sample
				defer func() {
					if v := recover(); v != nil {
						s = sample{err: fmt.Errorf("run panicked: %v", v)}
					}
					mu.Lock()
					samples[force] = append(samples[force], s)
					mu.Unlock()
				}()
				s.res, s.err = r.exec.Execute(ctx, collection, p, force)
			}); err != nil {
				wg.Done()
				wg.Wait()
				return nil, fmt.Errorf("submitting run: %w", err)
			}
		}
	}
	wg.Wait()

	for _, force := range []bool{false, true} {
		if len(samples[force]) != r.cfg.Iterations {
			return nil, fmt.Errorf("%d of %d runs finished", len(samples[force]), r.cfg.Iterations)
		}
		for _, s := range samples[force] {
			if s.err != nil {
				return nil, s.err
			}
		}
	}

	rep := &Report{
		Collection: collection,
		Iterations: r.cfg.Iterations,
		Workers:    r.cfg.Workers,
		SQL:        summarize("sql", samples[false]),
		Fallback:   summarize("fallback", samples[true]),
		Equivalent: true,
	}
	if rep.SQL.Mean > 0 {
		rep.Speedup = float64(rep.Fallback.Mean) / float64(rep.SQL.Mean)
	}

	reference := samples[true][0].res.Documents
	for _, s := range samples[false] {
		if msg := diff(s.res.Documents, reference); msg != "" {
			rep.Equivalent = false
			rep.Mismatch = msg
			break
		}
	}
	r.logger.Info("benchmark finished",
		"collection", collection,
		"sql_path", rep.SQL.Path,
		"sql_mean", rep.SQL.Mean,
		"fallback_mean", rep.Fallback.Mean,
		"equivalent", rep.Equivalent)
	return rep, nil
}

func summarize(requested string, samples []sample) PathStats {
	st := PathStats{Requested: requested, Runs: len(samples)}
	if len(samples) == 0 {
		return st
	}
	durations := make([]time.Duration, 0, len(samples))
	var total time.Duration
	for _, s := range samples {
		durations = append(durations, s.res.Duration)
		total += s.res.Duration
	}
	slices.Sort(durations)
	first := samples[0].res
	st.Path = string(first.Path)
	st.Reason = first.Reason
	st.Documents = len(first.Documents)
	st.Min = durations[0]
	st.Max = durations[len(durations)-1]
	st.Mean = total / time.Duration(len(durations))
	st.P50 = percentile(durations, 0.50)
	st.P95 = percentile(durations, 0.95)
	return st
}

// percentile uses nearest rank on sorted durations.
func percentile(sorted []time.Duration, q float64) time.Duration {
	i := int(q*float64(len(sorted))+0.5) - 1
	i = max(0, min(i, len(sorted)-1))
	return sorted[i]
}

// diff describes the first difference between two result sequences.
func diff(got, want []*document.Document) string {
	if len(got) != len(want) {
		return fmt.Sprintf("document count %d != %d", len(got), len(want))
	}
	for i := range got {
		a, err := document.Marshal(got[i])
		if err != nil {
			return err.Error()
		}
		b, err := document.Marshal(want[i])
		if err != nil {
			return err.Error()
		}
		if !bytes.Equal(a, b) {
			return fmt.Sprintf("document %d: %s != %s", i, a, b)
		}
	}
	return ""
}
