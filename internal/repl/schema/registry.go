// Package schema infers the field paths of a collection from a sample of
// its documents, for the console's :fields command and completions.
package schema

import (
	"context"
	"slices"

	"github.com/matthewbaird/docagg/internal/document"
)

// DefaultSampleSize is how many documents Describe inspects.
const DefaultSampleSize = 200

// FieldInfo summarizes one field path across the sampled documents.
type FieldInfo struct {
	Path  string   `json:"path"`
	Types []string `json:"types"` // JSON type names, sorted
	Count int      `json:"count"` // documents containing the path
}

// Loader materializes a collection. *store.Store implements it.
type Loader interface {
	Load(ctx context.Context, collection string) ([]*document.Document, error)
}

// Registry describes collections from a loader.
type Registry struct {
	loader     Loader
	sampleSize int
}

// NewRegistry creates a Registry. sampleSize <= 0 selects DefaultSampleSize.
func NewRegistry(loader Loader, sampleSize int) *Registry {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Registry{loader: loader, sampleSize: sampleSize}
}

// Fields describes the first documents of a collection.
func (r *Registry) Fields(ctx context.Context, collection string) ([]FieldInfo, error) {
	docs, err := r.loader.Load(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(docs) > r.sampleSize {
		docs = docs[:r.sampleSize]
	}
	return Describe(docs), nil
}

// Describe lists every field path in docs, descending into embedded
// documents but not into arrays, in order of first appearance.
func Describe(docs []*document.Document) []FieldInfo {
	var order []string
	byPath := make(map[string]*FieldInfo)
	seen := make(map[string]bool)

	var walk func(prefix string, d *document.Document)
	walk = func(prefix string, d *document.Document) {
		for _, f := range d.Fields() {
			path := f.Key
			if prefix != "" {
				path = prefix + "." + f.Key
			}
			info, ok := byPath[path]
			if !ok {
				info = &FieldInfo{Path: path}
				byPath[path] = info
				order = append(order, path)
			}
			if !seen[path] {
				seen[path] = true
				info.Count++
			}
			if t := document.TypeName(f.Value); !slices.Contains(info.Types, t) {
				info.Types = append(info.Types, t)
			}
			if sub, ok := f.Value.(*document.Document); ok {
				walk(path, sub)
			}
		}
	}
	for _, d := range docs {
		clear(seen)
		walk("", d)
	}

	out := make([]FieldInfo, 0, len(order))
	for _, p := range order {
		info := byPath[p]
		slices.Sort(info.Types)
		out = append(out, *info)
	}
	return out
}

// Paths returns just the field paths of fields.
func Paths(fields []FieldInfo) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Path
	}
	return out
}
