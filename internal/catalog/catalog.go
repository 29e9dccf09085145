// Package catalog reads the relational engine's index metadata and reports
// which document field paths have a supporting index.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/store"
)

// IndexedFieldSet is the set of field paths with a supporting index. The
// identifier field is always a member.
type IndexedFieldSet struct {
	indexes map[document.FieldPath]string // path -> index name
}

// NewIndexedFieldSet builds a set from paths. _id is always included.
func NewIndexedFieldSet(paths ...document.FieldPath) IndexedFieldSet {
	s := IndexedFieldSet{indexes: map[document.FieldPath]string{document.IDField: "PRIMARY KEY"}}
	for _, p := range paths {
		if _, ok := s.indexes[p]; !ok {
			s.indexes[p] = ""
		}
	}
	return s
}

// Has reports whether path has a supporting index.
func (s IndexedFieldSet) Has(path document.FieldPath) bool {
	_, ok := s.indexes[path]
	return ok
}

// IsIdentifier reports whether path is the document identifier.
func (s IndexedFieldSet) IsIdentifier(path document.FieldPath) bool {
	return path == document.IDField
}

// IndexName returns the name of the index backing path, if any.
func (s IndexedFieldSet) IndexName(path document.FieldPath) string {
	return s.indexes[path]
}

// Paths returns the indexed paths in sorted order.
func (s IndexedFieldSet) Paths() []document.FieldPath {
	out := make([]document.FieldPath, 0, len(s.indexes))
	for p := range s.indexes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of indexed paths, _id included.
func (s IndexedFieldSet) Len() int { return len(s.indexes) }

// Error reports a failed catalog read. Callers degrade to treating every
// field as unindexed.
type Error struct {
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog: reading indexes of %q: %v", e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Source lists index definitions of a collection. *store.Store implements it.
type Source interface {
	IndexDefinitions(ctx context.Context, collection string) ([]store.IndexDef, error)
}

// Reader produces IndexedFieldSets from the current schema. It holds no
// cache; every Fetch reads the schema again.
type Reader struct {
	src Source
}

// NewReader creates a Reader over src.
func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// Fetch returns the indexed field paths of collection as of now. An
// unknown collection yields an *Error.
func (r *Reader) Fetch(ctx context.Context, collection string) (IndexedFieldSet, error) {
	defs, err := r.src.IndexDefinitions(ctx, collection)
	if err != nil {
		return IndexedFieldSet{}, &Error{Collection: collection, Err: err}
	}
	set := NewIndexedFieldSet()
	for _, def := range defs {
		path, ok := IndexedPath(def.SQL)
		if !ok {
			continue
		}
		set.indexes[path] = def.Name
	}
	return set, nil
}

// indexExpr matches the single json_extract key of an expression index.
var indexExpr = regexp.MustCompile(`(?is)^CREATE\s+(?:UNIQUE\s+)?INDEX\s+.*?\bON\s+\S+\s*\(\s*json_extract\s*\(\s*"?data"?\s*,\s*'((?:[^']|'')*)'\s*\)\s*(?:ASC|DESC)?\s*\)\s*$`)

// IndexedPath extracts the field path an index definition covers. Only
// single-key indexes on json_extract(data, '<path>') are recognized.
// Partial indexes do not cover every row and are ignored.
func IndexedPath(ddl string) (document.FieldPath, bool) {
	m := indexExpr.FindStringSubmatch(strings.TrimSpace(ddl))
	if m == nil {
		return "", false
	}
	return store.ParseJSONPath(strings.ReplaceAll(m[1], "''", "'"))
}
