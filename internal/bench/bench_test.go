package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/logging"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/router"
	"github.com/matthewbaird/docagg/internal/store"
)

func TestRun_BothPathsAgree(t *testing.T) {
	ctx := context.Background()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := store.Open(ctx, "file:"+name+"?mode=memory&cache=shared", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var docs []*document.Document
	for i := 0; i < 40; i++ {
		docs = append(docs, document.MustParse(fmt.Sprintf(`{"n": %d, "tags": ["t%d", "t%d"]}`, i, i%3, i%5)))
	}
	_, err = st.Insert(ctx, "items", docs...)
	require.NoError(t, err)

	rt := router.New(st, nil, router.Config{Logger: logging.Discard()})
	p := pipeline.MustParse(`[{"$unwind": "$tags"}, {"$group": {"_id": "$tags", "total": {"$sum": "$n"}}}, {"$sort": {"_id": 1}}]`)

	rep, err := New(rt, Config{Workers: 3, Iterations: 4, Logger: logging.Discard()}).Run(ctx, "items", p)
	require.NoError(t, err)
	assert.True(t, rep.Equivalent, rep.Mismatch)
	assert.Equal(t, "sql", rep.SQL.Path)
	assert.Equal(t, "fallback", rep.Fallback.Path)
	assert.Equal(t, router.ReasonForced, rep.Fallback.Reason)
	assert.Equal(t, 4, rep.SQL.Runs)
	assert.Equal(t, 5, rep.SQL.Documents)
	assert.LessOrEqual(t, rep.SQL.Min, rep.SQL.Max)
}

type fakeExec struct {
	sql, fallback []*document.Document
	err           error
}

func (f fakeExec) Execute(_ context.Context, _ string, _ pipeline.Pipeline, force bool) (*router.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if force {
		return &router.Result{Documents: f.fallback, Path: router.PathFallback, Reason: router.ReasonForced, Duration: 2 * time.Millisecond}, nil
	}
	return &router.Result{Documents: f.sql, Path: router.PathSQL, Duration: time.Millisecond}, nil
}

func TestRun_ReportsMismatch(t *testing.T) {
	exec := fakeExec{
		sql:      []*document.Document{document.MustParse(`{"a": 1}`)},
		fallback: []*document.Document{document.MustParse(`{"a": 2}`)},
	}
	rep, err := New(exec, Config{Workers: 2, Iterations: 2}).Run(context.Background(), "c", nil)
	require.NoError(t, err)
	assert.False(t, rep.Equivalent)
	assert.Contains(t, rep.Mismatch, "document 0")
	assert.InDelta(t, 2.0, rep.Speedup, 1e-9)
}

func TestRun_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(fakeExec{err: boom}, Config{}).Run(context.Background(), "c", nil)
	assert.ErrorIs(t, err, boom)
}

func TestPercentile(t *testing.T) {
	d := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(d, 0.5))
	assert.Equal(t, time.Duration(10), percentile(d, 0.95))
	assert.Equal(t, time.Duration(7), percentile([]time.Duration{7}, 0.95))
}

type panicExec struct{}

func (panicExec) Execute(context.Context, string, pipeline.Pipeline, bool) (*router.Result, error) {
	panic("engine exploded")
}

func TestRun_PanickingRunIsAnError(t *testing.T) {
	_, err := New(panicExec{}, Config{Workers: 2, Iterations: 3, Logger: logging.Discard()}).Run(context.Background(), "c", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine exploded")
}
