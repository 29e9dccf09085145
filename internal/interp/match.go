package interp

import (
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

// Matches evaluates a predicate against a document.
func Matches(p pipeline.Predicate, d *document.Document) bool {
	switch x := p.(type) {
	case *pipeline.Compare:
		return compare(x, d)
	case *pipeline.In:
		for _, v := range x.Values {
			if compare(&pipeline.Compare{Path: x.Path, Op: pipeline.OpEq, Value: v}, d) {
				return true
			}
		}
		return false
	case *pipeline.Exists:
		_, ok := x.Path.Resolve(d)
		return ok == x.Want
	case *pipeline.Size:
		v, ok := x.Path.Resolve(d)
		arr, isArr := v.([]any)
		return ok && isArr && len(arr) == x.N
	case *pipeline.Regex:
		for _, c := range x.Path.Candidates(d) {
			if s, ok := c.(string); ok && x.Re.MatchString(s) {
				return true
			}
		}
		return false
	case *pipeline.Not:
		return !Matches(x.Inner, d)
	case *pipeline.Logical:
		switch x.Op {
		case pipeline.LogicAnd:
			for _, c := range x.Children {
				if !Matches(c, d) {
					return false
				}
			}
			return true
		case pipeline.LogicOr:
			for _, c := range x.Children {
				if Matches(c, d) {
					return true
				}
			}
			return false
		default:
			for _, c := range x.Children {
				if Matches(c, d) {
					return false
				}
			}
			return true
		}
	default:
		return false
	}
}

// compare matches when any candidate of the path satisfies the operator
// against a value of the same type class. Document and array operands
// match by equality, either an element or the whole value.
func compare(c *pipeline.Compare, d *document.Document) bool {
	if !document.IsScalar(c.Value) {
		if c.Op != pipeline.OpEq {
			return false
		}
		if v, ok := c.Path.Resolve(d); ok && document.Equal(v, c.Value) {
			return true
		}
		for _, cand := range c.Path.Candidates(d) {
			if document.Equal(cand, c.Value) {
				return true
			}
		}
		return false
	}
	for _, cand := range c.Path.Candidates(d) {
		cmp, ok := document.CompareScalars(cand, c.Value)
		if !ok {
			continue
		}
		switch c.Op {
		case pipeline.OpEq:
			if cmp == 0 {
				return true
			}
		case pipeline.OpGt:
			if cmp > 0 {
				return true
			}
		case pipeline.OpGte:
			if cmp >= 0 {
				return true
			}
		case pipeline.OpLt:
			if cmp < 0 {
				return true
			}
		case pipeline.OpLte:
			if cmp <= 0 {
				return true
			}
		}
	}
	return false
}
