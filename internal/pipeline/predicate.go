package pipeline

import (
	"regexp"

	"github.com/matthewbaird/docagg/internal/document"
)

// Predicate is a node of a $match predicate tree.
type Predicate interface {
	// Paths returns every field path the predicate reads.
	Paths() []document.FieldPath
	predicate()
}

// CompareOp enumerates comparison operators. $ne is parsed as Not(Eq).
type CompareOp int

const (
	OpEq CompareOp = iota
	OpGt
	OpGte
	OpLt
	OpLte
)

// String returns the operator name.
func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "$eq"
	case OpGt:
		return "$gt"
	case OpGte:
		return "$gte"
	case OpLt:
		return "$lt"
	case OpLte:
		return "$lte"
	default:
		return "$unknown"
	}
}

// Symbol returns the SQL comparison symbol.
func (op CompareOp) Symbol() string {
	switch op {
	case OpEq:
		return "="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	default:
		return "?"
	}
}

// Compare tests candidates of Path against Value.
type Compare struct {
	Path  document.FieldPath
	Op    CompareOp
	Value any
}

// In tests candidates of Path for membership in Values.
type In struct {
	Path   document.FieldPath
	Values []any
}

// Exists tests presence of Path.
type Exists struct {
	Path document.FieldPath
	Want bool
}

// Size tests the length of an array at Path.
type Size struct {
	Path document.FieldPath
	N    int
}

// Regex tests string candidates of Path against a pattern. It has no SQL
// form.
type Regex struct {
	Path    document.FieldPath
	Pattern string
	Options string
	Re      *regexp.Regexp
}

// Not negates its operand.
type Not struct {
	Inner Predicate
}

// LogicOp enumerates boolean connectives.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
	LogicNor
)

// String returns the connective name.
func (op LogicOp) String() string {
	switch op {
	case LogicAnd:
		return "$and"
	case LogicOr:
		return "$or"
	case LogicNor:
		return "$nor"
	default:
		return "$unknown"
	}
}

// Logical combines children. An empty $and is true.
type Logical struct {
	Op       LogicOp
	Children []Predicate
}

func (p *Compare) Paths() []document.FieldPath { return []document.FieldPath{p.Path} }
func (p *In) Paths() []document.FieldPath      { return []document.FieldPath{p.Path} }
func (p *Exists) Paths() []document.FieldPath  { return []document.FieldPath{p.Path} }
func (p *Size) Paths() []document.FieldPath    { return []document.FieldPath{p.Path} }
func (p *Regex) Paths() []document.FieldPath   { return []document.FieldPath{p.Path} }
func (p *Not) Paths() []document.FieldPath     { return p.Inner.Paths() }

func (p *Logical) Paths() []document.FieldPath {
	var out []document.FieldPath
	for _, c := range p.Children {
		out = append(out, c.Paths()...)
	}
	return out
}

func (*Compare) predicate() {}
func (*In) predicate()      {}
func (*Exists) predicate()  {}
func (*Size) predicate()    {}
func (*Regex) predicate()   {}
func (*Not) predicate()     {}
func (*Logical) predicate() {}
