package sqlplan

import (
	"fmt"
	"strings"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

// predicate compiles a predicate tree to an expression that is always 0 or
// 1, never NULL, so that NOT is an exact negation.
func (f *fragment) predicate(doc string, p pipeline.Predicate) (string, error) {
	switch x := p.(type) {
	case *pipeline.Compare:
		cond, err := f.candidateCond(x.Op, x.Value)
		if err != nil {
			return "", err
		}
		return f.anyCandidate(doc, x.Path, cond)
	case *pipeline.In:
		if len(x.Values) == 0 {
			return "0", nil
		}
		conds := make([]string, 0, len(x.Values))
		for _, v := range x.Values {
			c, err := f.candidateCond(pipeline.OpEq, v)
			if err != nil {
				return "", err
			}
			conds = append(conds, "("+c+")")
		}
		return f.anyCandidate(doc, x.Path, strings.Join(conds, " OR "))
	case *pipeline.Exists:
		path, err := f.path(x.Path)
		if err != nil {
			return "", err
		}
		if x.Want {
			return fmt.Sprintf("(json_type(%s, %s) IS NOT NULL)", doc, path), nil
		}
		return fmt.Sprintf("(json_type(%s, %s) IS NULL)", doc, path), nil
	case *pipeline.Size:
		path, err := f.path(x.Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(json_type(%s, %s) = 'array' AND json_array_length(%s, %s) = %s, 0)",
			doc, path, doc, path, f.ctx.bind(int64(x.N))), nil
	case *pipeline.Regex:
		return "", errUnsupported("$regex has no SQL form")
	case *pipeline.Not:
		inner, err := f.predicate(doc, x.Inner)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil
	case *pipeline.Logical:
		if len(x.Children) == 0 {
			if x.Op == pipeline.LogicAnd {
				return "1", nil
			}
			return "0", nil
		}
		parts := make([]string, 0, len(x.Children))
		for _, c := range x.Children {
			s, err := f.predicate(doc, c)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		switch x.Op {
		case pipeline.LogicAnd:
			return "(" + strings.Join(parts, " AND ") + ")", nil
		case pipeline.LogicOr:
			return "(" + strings.Join(parts, " OR ") + ")", nil
		default:
			return "(NOT (" + strings.Join(parts, " OR ") + "))", nil
		}
	default:
		return "", errUnsupported("predicate %T", p)
	}
}

// anyCandidate tests cond against every candidate value of the path,
// exposed as json_each row c.
func (f *fragment) anyCandidate(doc string, p document.FieldPath, cond string) (string, error) {
	path, err := f.path(p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) c WHERE %s)", candidates(doc, path), cond), nil
}

// candidateCond compares the candidate row c with a scalar operand. Values
// of a different type class never match.
func (f *fragment) candidateCond(op pipeline.CompareOp, v any) (string, error) {
	sym := op.Symbol()
	switch x := v.(type) {
	case nil:
		if op == pipeline.OpGt || op == pipeline.OpLt {
			return "0", nil
		}
		return "c.type = 'null'", nil
	case float64:
		return fmt.Sprintf("c.type IN ('integer', 'real') AND c.atom %s %s", sym, f.ctx.bind(x)), nil
	case string:
		return fmt.Sprintf("c.type = 'text' AND c.atom %s %s", sym, f.ctx.bind(x)), nil
	case bool:
		b := int64(0)
		if x {
			b = 1
		}
		return fmt.Sprintf("c.type IN ('true', 'false') AND (c.type = 'true') %s %s", sym, f.ctx.bind(b)), nil
	default:
		return "", errUnsupported("%s with a %T operand", op, v)
	}
}
