package document

import (
	"strconv"
	"strings"
)

// FieldPath addresses a location inside a document with dot-separated
// segments. Segments made only of digits index arrays; all other segments
// name document fields. Intermediate arrays are not fanned out.
type FieldPath string

// Segments splits the path on dots.
func (p FieldPath) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// String returns the dotted form.
func (p FieldPath) String() string { return string(p) }

// IsTopLevel reports whether the path names a single top-level field.
func (p FieldPath) IsTopLevel() bool {
	return p != "" && !strings.Contains(string(p), ".") && !IsIndexSegment(string(p))
}

// HasIndexSegment reports whether any segment is an array index.
func (p FieldPath) HasIndexSegment() bool {
	for _, s := range p.Segments() {
		if IsIndexSegment(s) {
			return true
		}
	}
	return false
}

// Valid reports whether every segment is non-empty and the path does not
// start with '$'.
func (p FieldPath) Valid() bool {
	if p == "" || strings.HasPrefix(string(p), "$") {
		return false
	}
	for _, s := range p.Segments() {
		if s == "" {
			return false
		}
	}
	return true
}

// IsIndexSegment reports whether s is an array index segment.
func IsIndexSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Resolve returns the value at p and whether it exists.
func (p FieldPath) Resolve(d *Document) (any, bool) {
	var cur any = d
	for _, seg := range p.Segments() {
		if IsIndexSegment(seg) {
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			i, err := strconv.Atoi(seg)
			if err != nil || i >= len(arr) {
				return nil, false
			}
			cur = arr[i]
			continue
		}
		sub, ok := cur.(*Document)
		if !ok {
			return nil, false
		}
		v, ok := sub.Get(seg)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Candidates returns the values a predicate on p is tested against: the
// elements when the value is an array, a single null when the path is
// missing, otherwise the value itself.
func (p FieldPath) Candidates(d *Document) []any {
	v, ok := p.Resolve(d)
	if !ok {
		return []any{nil}
	}
	if arr, isArr := v.([]any); isArr {
		return arr
	}
	return []any{v}
}

// Set returns a copy of d with the value at p replaced or created.
// Missing intermediate documents are created. If an intermediate value is
// not a document, or an index segment is involved, d is returned unchanged.
func (p FieldPath) Set(d *Document, v any) *Document {
	segs := p.Segments()
	if len(segs) == 0 || p.HasIndexSegment() {
		return d
	}
	out, ok := setIn(d, segs, v)
	if !ok {
		return d
	}
	return out
}

func setIn(d *Document, segs []string, v any) (*Document, bool) {
	if len(segs) == 1 {
		return d.Set(segs[0], v), true
	}
	cur, exists := d.Get(segs[0])
	var child *Document
	if !exists {
		child = New()
	} else {
		sub, isDoc := cur.(*Document)
		if !isDoc {
			return nil, false
		}
		child = sub
	}
	updated, ok := setIn(child, segs[1:], v)
	if !ok {
		return nil, false
	}
	return d.Set(segs[0], updated), true
}

// Remove returns a copy of d without the value at p. Paths through
// non-documents or with index segments leave d unchanged.
func (p FieldPath) Remove(d *Document) *Document {
	segs := p.Segments()
	if len(segs) == 0 || p.HasIndexSegment() {
		return d
	}
	return removeIn(d, segs)
}

func removeIn(d *Document, segs []string) *Document {
	if len(segs) == 1 {
		if !d.Has(segs[0]) {
			return d
		}
		return d.Delete(segs[0])
	}
	cur, ok := d.Get(segs[0])
	if !ok {
		return d
	}
	sub, isDoc := cur.(*Document)
	if !isDoc {
		return d
	}
	return d.Set(segs[0], removeIn(sub, segs[1:]))
}
