package pipeline

import "github.com/matthewbaird/docagg/internal/document"

// Expr is a value expression used by group keys, accumulators and
// computed fields.
type Expr interface {
	// Eval returns the value of the expression for d and whether it
	// produced a value (a missing field reference does not).
	Eval(d *document.Document) (any, bool)
	expr()
}

// FieldRef reads a field path ("$a.b").
type FieldRef struct {
	Path document.FieldPath
}

// Literal is a constant value.
type Literal struct {
	Value any
}

// NamedExpr is one field of an ObjectExpr.
type NamedExpr struct {
	Name string
	Expr Expr
}

// ObjectExpr builds a document from named expressions. Missing field
// references evaluate to null.
type ObjectExpr struct {
	Fields []NamedExpr
}

func (e *FieldRef) Eval(d *document.Document) (any, bool) { return e.Path.Resolve(d) }

func (e *Literal) Eval(*document.Document) (any, bool) { return e.Value, true }

func (e *ObjectExpr) Eval(d *document.Document) (any, bool) {
	fields := make([]document.Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		v, ok := f.Expr.Eval(d)
		if !ok {
			v = nil
		}
		fields = append(fields, document.Field{Key: f.Name, Value: v})
	}
	return document.New(fields...), true
}

func (*FieldRef) expr()   {}
func (*Literal) expr()    {}
func (*ObjectExpr) expr() {}

// ExprPaths returns the field paths an expression reads.
func ExprPaths(e Expr) []document.FieldPath {
	switch x := e.(type) {
	case *FieldRef:
		return []document.FieldPath{x.Path}
	case *ObjectExpr:
		var out []document.FieldPath
		for _, f := range x.Fields {
			out = append(out, ExprPaths(f.Expr)...)
		}
		return out
	default:
		return nil
	}
}
