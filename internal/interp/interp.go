// Package interp executes pipelines stage by stage over materialized
// documents. It is the reference semantics the SQL translation must match.
package interp

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/store"
)

// Loader materializes a collection in natural order.
type Loader interface {
	Load(ctx context.Context, collection string) ([]*document.Document, error)
}

// Interpreter runs pipelines in memory. Stages never mutate their input
// documents; every change produces a new document.
type Interpreter struct {
	loader Loader
}

// New creates an Interpreter. loader may be nil, in which case every
// $lookup sees an empty foreign collection.
func New(loader Loader) *Interpreter {
	return &Interpreter{loader: loader}
}

// Execute materializes collection and runs p over it. An unknown collection
// is treated as empty.
func (in *Interpreter) Execute(ctx context.Context, collection string, p pipeline.Pipeline) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs, err := in.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	return in.Run(ctx, docs, p)
}

// Run executes p over docs. Each stage consumes the whole sequence before
// the next one starts.
func (in *Interpreter) Run(ctx context.Context, docs []*document.Document, p pipeline.Pipeline) ([]*document.Document, error) {
	cur := docs
	for i, st := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := in.stage(ctx, st, cur)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, st.Kind(), err)
		}
		cur = next
	}
	if cur == nil {
		cur = []*document.Document{}
	}
	return cur, nil
}

func (in *Interpreter) stage(ctx context.Context, st pipeline.Stage, docs []*document.Document) ([]*document.Document, error) {
	switch s := st.(type) {
	case *pipeline.Match:
		out := make([]*document.Document, 0, len(docs))
		for _, d := range docs {
			if Matches(s.Predicate, d) {
				out = append(out, d)
			}
		}
		return out, nil
	case *pipeline.Unwind:
		return unwind(s, docs), nil
	case *pipeline.Sort:
		return sortDocs(s, docs), nil
	case *pipeline.Limit:
		if int64(len(docs)) > s.N {
			return docs[:s.N], nil
		}
		return docs, nil
	case *pipeline.Skip:
		if int64(len(docs)) <= s.N {
			return nil, nil
		}
		return docs[s.N:], nil
	case *pipeline.Group:
		return group(s, docs), nil
	case *pipeline.Project:
		out := make([]*document.Document, len(docs))
		for i, d := range docs {
			out[i] = project(s, d)
		}
		return out, nil
	case *pipeline.AddFields:
		out := make([]*document.Document, len(docs))
		for i, d := range docs {
			out[i] = addFields(s, d)
		}
		return out, nil
	case *pipeline.Lookup:
		return in.lookup(ctx, s, docs)
	case *pipeline.Count:
		if len(docs) == 0 {
			return nil, nil
		}
		return []*document.Document{document.New(document.Field{Key: s.Field, Value: float64(len(docs))})}, nil
	default:
		return nil, fmt.Errorf("unknown stage %T", st)
	}
}

func (in *Interpreter) load(ctx context.Context, collection string) ([]*document.Document, error) {
	if in.loader == nil {
		return nil, nil
	}
	docs, err := in.loader.Load(ctx, collection)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return docs, err
}

func unwind(s *pipeline.Unwind, docs []*document.Document) []*document.Document {
	withIndex := func(d *document.Document, idx any) *document.Document {
		if s.IncludeArrayIndex == "" {
			return d
		}
		return s.IncludeArrayIndex.Set(d, idx)
	}
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		v, ok := s.Path.Resolve(d)
		arr, isArr := v.([]any)
		switch {
		case isArr && len(arr) > 0:
			for i, e := range arr {
				out = append(out, withIndex(s.Path.Set(d, e), float64(i)))
			}
		case isArr:
			if s.PreserveNullAndEmptyArrays {
				out = append(out, withIndex(s.Path.Remove(d), nil))
			}
		case !ok || v == nil:
			if s.PreserveNullAndEmptyArrays {
				out = append(out, withIndex(d, nil))
			}
		default:
			out = append(out, withIndex(d, nil))
		}
	}
	return out
}

func sortDocs(s *pipeline.Sort, docs []*document.Document) []*document.Document {
	type keyed struct {
		doc  *document.Document
		vals []any
		oks  []bool
	}
	rows := make([]keyed, len(docs))
	for i, d := range docs {
		r := keyed{doc: d, vals: make([]any, len(s.Keys)), oks: make([]bool, len(s.Keys))}
		for k, key := range s.Keys {
			r.vals[k], r.oks[k] = key.Path.Resolve(d)
		}
		rows[i] = r
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, key := range s.Keys {
			c := document.SortCompare(rows[i].vals[k], rows[i].oks[k], rows[j].vals[k], rows[j].oks[k])
			if key.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	out := make([]*document.Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}

func project(s *pipeline.Project, d *document.Document) *document.Document {
	if s.Mode == pipeline.ProjectExclude {
		out := d
		for _, p := range s.Excluded {
			out = p.Remove(out)
		}
		if s.ExcludeID {
			out = document.FieldPath(document.IDField).Remove(out)
		}
		return out
	}

	out := document.New()
	var idExpr pipeline.Expr = &pipeline.FieldRef{Path: document.IDField}
	for _, f := range s.Fields {
		if f.Path == document.IDField && f.Expr != nil {
			idExpr = f.Expr
		}
	}
	if !s.ExcludeID {
		if v, ok := idExpr.Eval(d); ok {
			out = out.Set(document.IDField, v)
		}
	}
	for _, f := range s.Fields {
		if f.Path == document.IDField {
			continue
		}
		expr := f.Expr
		if expr == nil {
			expr = &pipeline.FieldRef{Path: f.Path}
		}
		if v, ok := expr.Eval(d); ok {
			out = f.Path.Set(out, v)
		}
	}
	return out
}

func addFields(s *pipeline.AddFields, d *document.Document) *document.Document {
	out := d
	for _, f := range s.Fields {
		if v, ok := f.Expr.Eval(d); ok {
			out = f.Path.Set(out, v)
		}
	}
	return out
}

func (in *Interpreter) lookup(ctx context.Context, s *pipeline.Lookup, docs []*document.Document) ([]*document.Document, error) {
	foreign, err := in.load(ctx, s.From)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.From, err)
	}
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		matched := foreign
		if s.Equality() {
			matched = nil
			local := s.LocalField.Candidates(d)
			for _, f := range foreign {
				if anyEqual(local, s.ForeignField.Candidates(f)) {
					matched = append(matched, f)
				}
			}
		}
		if s.Pipeline != nil {
			matched, err = in.Run(ctx, matched, s.Pipeline)
			if err != nil {
				return nil, fmt.Errorf("sub-pipeline: %w", err)
			}
		}
		joined := make([]any, len(matched))
		for i, m := range matched {
			joined[i] = m
		}
		out = append(out, s.As.Set(d, joined))
	}
	return out, nil
}

// anyEqual reports whether some value in a equals some value in b.
func anyEqual(a, b []any) bool {
	for _, x := range a {
		for _, y := range b {
			if sameValue(x, y) {
				return true
			}
		}
	}
	return false
}

// sameValue is equality within a type class: scalars by value, documents
// and arrays structurally.
func sameValue(a, b any) bool {
	if document.IsScalar(a) && document.IsScalar(b) {
		c, ok := document.CompareScalars(a, b)
		return ok && c == 0
	}
	return document.Equal(a, b)
}
