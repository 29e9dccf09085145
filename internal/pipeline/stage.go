// Package pipeline defines aggregation pipelines: an ordered list of
// stages drawn from a closed set of kinds, parsed from Mongo-style JSON.
//
// Both execution paths consume the same Pipeline value. Stage kinds are a
// closed set; the SQL translator and the in-memory interpreter each have a
// single type switch over them.
package pipeline

import "github.com/matthewbaird/docagg/internal/document"

// Kind identifies a stage variant.
type Kind int

const (
	KindMatch Kind = iota
	KindUnwind
	KindSort
	KindLimit
	KindSkip
	KindGroup
	KindProject
	KindLookup
	KindAddFields
	KindCount
)

// Kinds lists every stage kind.
var Kinds = []Kind{
	KindMatch, KindUnwind, KindSort, KindLimit, KindSkip,
	KindGroup, KindProject, KindLookup, KindAddFields, KindCount,
}

// String returns the stage operator name.
func (k Kind) String() string {
	switch k {
	case KindMatch:
		return "$match"
	case KindUnwind:
		return "$unwind"
	case KindSort:
		return "$sort"
	case KindLimit:
		return "$limit"
	case KindSkip:
		return "$skip"
	case KindGroup:
		return "$group"
	case KindProject:
		return "$project"
	case KindLookup:
		return "$lookup"
	case KindAddFields:
		return "$addFields"
	case KindCount:
		return "$count"
	default:
		return "$unknown"
	}
}

// Pipeline is an ordered sequence of stages.
type Pipeline []Stage

// Stage is one pipeline step. The set of implementations is closed.
type Stage interface {
	Kind() Kind
	stage()
}

// Match keeps documents satisfying a predicate.
type Match struct {
	Predicate Predicate
}

// Unwind emits one document per element of an array field.
type Unwind struct {
	Path                       document.FieldPath
	IncludeArrayIndex          document.FieldPath // empty = none
	PreserveNullAndEmptyArrays bool
}

// SortKey is one ordering key.
type SortKey struct {
	Path document.FieldPath
	Desc bool
}

// Sort orders documents by keys in left-to-right priority.
type Sort struct {
	Keys []SortKey
}

// Limit keeps the first N documents.
type Limit struct {
	N int64
}

// Skip drops the first N documents.
type Skip struct {
	N int64
}

// AccOp enumerates group accumulators.
type AccOp int

const (
	AccSum AccOp = iota
	AccAvg
	AccMin
	AccMax
	AccCount
	AccPush
	AccAddToSet
	AccFirst
	AccLast
)

// String returns the accumulator operator name.
func (op AccOp) String() string {
	switch op {
	case AccSum:
		return "$sum"
	case AccAvg:
		return "$avg"
	case AccMin:
		return "$min"
	case AccMax:
		return "$max"
	case AccCount:
		return "$count"
	case AccPush:
		return "$push"
	case AccAddToSet:
		return "$addToSet"
	case AccFirst:
		return "$first"
	case AccLast:
		return "$last"
	default:
		return "$unknown"
	}
}

// Accumulator computes one output field of a group.
type Accumulator struct {
	Name string
	Op   AccOp
	Arg  Expr // nil for AccCount
}

// Group buckets documents by key and computes accumulators per bucket.
// Output documents are {_id: key, <accumulators>...} in first-seen key order.
type Group struct {
	Key          Expr
	Accumulators []Accumulator
}

// ProjectMode distinguishes inclusion from exclusion projections.
type ProjectMode int

const (
	ProjectInclude ProjectMode = iota
	ProjectExclude
)

// ProjectField is one output field. Expr is nil for plain inclusion of the
// same path.
type ProjectField struct {
	Path document.FieldPath
	Expr Expr
}

// Project reshapes documents. In inclusion mode the output holds _id
// (unless ExcludeID) followed by Fields in order. In exclusion mode the
// Excluded paths are removed.
type Project struct {
	Mode      ProjectMode
	ExcludeID bool
	Fields    []ProjectField
	Excluded  []document.FieldPath
}

// Lookup joins documents from another collection into the As field.
// LocalField/ForeignField give an equality condition; Pipeline, when set,
// runs over the joined foreign documents.
type Lookup struct {
	From         string
	LocalField   document.FieldPath
	ForeignField document.FieldPath
	As           document.FieldPath
	Pipeline     Pipeline
}

// Equality reports whether the lookup has a local/foreign equality condition.
func (l *Lookup) Equality() bool {
	return l.LocalField != "" && l.ForeignField != ""
}

// AddFields sets computed fields, keeping everything else.
type AddFields struct {
	Fields []ProjectField
}

// Count replaces the stream with a single {Field: n} document, or nothing
// when the stream is empty.
type Count struct {
	Field string
}

func (*Match) Kind() Kind     { return KindMatch }
func (*Unwind) Kind() Kind    { return KindUnwind }
func (*Sort) Kind() Kind      { return KindSort }
func (*Limit) Kind() Kind     { return KindLimit }
func (*Skip) Kind() Kind      { return KindSkip }
func (*Group) Kind() Kind     { return KindGroup }
func (*Project) Kind() Kind   { return KindProject }
func (*Lookup) Kind() Kind    { return KindLookup }
func (*AddFields) Kind() Kind { return KindAddFields }
func (*Count) Kind() Kind     { return KindCount }

func (*Match) stage()     {}
func (*Unwind) stage()    {}
func (*Sort) stage()      {}
func (*Limit) stage()     {}
func (*Skip) stage()      {}
func (*Group) stage()     {}
func (*Project) stage()   {}
func (*Lookup) stage()    {}
func (*AddFields) stage() {}
func (*Count) stage()     {}
