// Package sqlplan compiles a whole pipeline into one SQLite statement over
// the collection's JSON documents.
//
// Each stage becomes one or more common table expressions with the columns
// (_ord, data): _ord carries the stream order and data the JSON document.
// The statement selects data from the last CTE ordered by _ord. Values and
// paths are always bound parameters; identifiers are validated and quoted.
//
// Translation is all or nothing. The first stage that cannot be expressed
// makes Build return an *UnsupportedError and the caller runs the
// in-memory interpreter instead.
package sqlplan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/store"
)

// DefaultMaxStages bounds the pipelines Build will translate.
const DefaultMaxStages = 64

// ColumnMapping maps a result column to an output document field. An empty
// Field means the column holds the whole document.
type ColumnMapping struct {
	Column string `json:"column"`
	Field  string `json:"field,omitempty"`
}

// ExecutionPlan is a compiled statement with its bound parameters.
type ExecutionPlan struct {
	Statement string          `json:"statement"`
	Args      []any           `json:"-"`
	Columns   []ColumnMapping `json:"columns"`
}

// UnsupportedError reports why a pipeline has no SQL form. It never reaches
// callers of the router; explain output shows it.
type UnsupportedError struct {
	Stage  int    // -1 when the whole pipeline is rejected
	Kind   string // stage operator
	Reason string
}

func (e *UnsupportedError) Error() string {
	if e.Stage < 0 {
		return "no SQL plan: " + e.Reason
	}
	return fmt.Sprintf("no SQL plan: stage %d (%s): %s", e.Stage, e.Kind, e.Reason)
}

// Request is the input to Build.
type Request struct {
	Collection string
	Pipeline   pipeline.Pipeline
	// Foreign lists collections known to exist, consulted by $lookup.
	Foreign map[string]bool
}

// Builder folds translated stages into one statement.
type Builder struct {
	MaxStages int
}

// NewBuilder creates a Builder. maxStages <= 0 selects DefaultMaxStages.
func NewBuilder(maxStages int) *Builder {
	if maxStages <= 0 {
		maxStages = DefaultMaxStages
	}
	return &Builder{MaxStages: maxStages}
}

// Build translates every stage in order. It returns an *UnsupportedError
// as soon as one stage cannot be translated.
func (b *Builder) Build(req Request) (*ExecutionPlan, error) {
	if err := store.CheckName(req.Collection); err != nil {
		return nil, &UnsupportedError{Stage: -1, Reason: err.Error()}
	}
	if len(req.Pipeline) > b.MaxStages {
		return nil, &UnsupportedError{Stage: -1, Reason: fmt.Sprintf("pipeline has %d stages, limit is %d", len(req.Pipeline), b.MaxStages)}
	}

	ctx := newContext(req.Foreign)
	ctx.add(fmt.Sprintf("SELECT rowid AS _ord, %s FROM %s", store.DataColumn, store.QuoteIdent(req.Collection)))

	for i, st := range req.Pipeline {
		frag, err := Translate(st, ctx)
		if err != nil {
			return nil, &UnsupportedError{Stage: i, Kind: st.Kind().String(), Reason: err.Error()}
		}
		for _, body := range frag.CTEs {
			ctx.add(body)
		}
	}

	var sb strings.Builder
	sb.WriteString("WITH ")
	for i, body := range ctx.ctes {
		if i > 0 {
			sb.WriteString(",\n")
		}
		sb.WriteString(cteName(i))
		sb.WriteString(" AS (")
		sb.WriteString(body)
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, "\nSELECT %s FROM %s ORDER BY _ord", store.DataColumn, ctx.prev())

	return &ExecutionPlan{
		Statement: sb.String(),
		Args:      ctx.args,
		Columns:   []ColumnMapping{{Column: store.DataColumn}},
	}, nil
}

// Fragment is the SQL produced for one stage: CTE bodies reading from the
// context's previous CTE, in order.
type Fragment struct {
	CTEs []string
}

// Context carries translation state across stages: the CTEs emitted so far
// and the bound parameters. Stage i sees only what stages before it added.
type Context struct {
	ctes    []string
	args    []any
	foreign map[string]bool
	pending int
}

func newContext(foreign map[string]bool) *Context {
	return &Context{foreign: foreign}
}

func cteName(i int) string { return "s" + strconv.Itoa(i) }

// add appends a CTE body.
func (c *Context) add(body string) {
	c.ctes = append(c.ctes, body)
	c.pending = 0
}

// prev is the name of the latest committed CTE.
func (c *Context) prev() string { return cteName(len(c.ctes) - 1) }

// next reserves the name of the next CTE within the fragment being built.
func (c *Context) next() string {
	c.pending++
	return cteName(len(c.ctes) - 1 + c.pending)
}

// source is the name the next CTE body reads from.
func (c *Context) source() string {
	return cteName(len(c.ctes) - 1 + c.pending)
}

// bind appends a parameter and returns its placeholder.
func (c *Context) bind(v any) string {
	c.args = append(c.args, v)
	return "?" + strconv.Itoa(len(c.args))
}
