// Package cost estimates the relative access cost of pipeline stages from
// index presence. Estimates are advisory: they are reported by explain and
// metrics but never change how a pipeline executes.
package cost

import (
	"github.com/matthewbaird/docagg/internal/catalog"
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

// Multipliers per field class.
const (
	IdentifierMultiplier = 0.1
	IndexedMultiplier    = 0.3
	UnindexedMultiplier  = 1.0

	// Baseline is the cost of a stage that references no field.
	Baseline = UnindexedMultiplier
)

// FieldCost is the multiplier assigned to one referenced field.
type FieldCost struct {
	Path       document.FieldPath `json:"path"`
	Indexed    bool               `json:"indexed"`
	Multiplier float64            `json:"multiplier"`
}

// StageEstimate is the cost of one stage.
type StageEstimate struct {
	Stage  int         `json:"stage"`
	Kind   string      `json:"kind"`
	Fields []FieldCost `json:"fields,omitempty"`
	Cost   float64     `json:"cost"`
}

// Estimate is the per-stage breakdown and the pipeline total.
type Estimate struct {
	Stages []StageEstimate `json:"stages"`
	Total  float64         `json:"total"`
}

// FieldMultiplier returns the multiplier for a path given the indexed set.
// A zero IndexedFieldSet (catalog unavailable) makes every path unindexed.
func FieldMultiplier(path document.FieldPath, set catalog.IndexedFieldSet) float64 {
	switch {
	case !set.Has(path):
		return UnindexedMultiplier
	case set.IsIdentifier(path):
		return IdentifierMultiplier
	default:
		return IndexedMultiplier
	}
}

// EstimateStage returns the cost of one stage: the sum of the multipliers
// of the distinct paths it references, or Baseline when it references none.
func EstimateStage(st pipeline.Stage, set catalog.IndexedFieldSet) StageEstimate {
	est := StageEstimate{Kind: st.Kind().String()}
	seen := make(map[document.FieldPath]bool)
	for _, p := range StagePaths(st) {
		if seen[p] {
			continue
		}
		seen[p] = true
		m := FieldMultiplier(p, set)
		est.Fields = append(est.Fields, FieldCost{Path: p, Indexed: m < UnindexedMultiplier, Multiplier: m})
		est.Cost += m
	}
	if len(est.Fields) == 0 {
		est.Cost = Baseline
	}
	return est
}

// EstimatePipeline sums the stage estimates. Stages after the first one
// that reshapes documents ($group, $project, $count) cannot use collection
// indexes and are estimated as unindexed.
func EstimatePipeline(p pipeline.Pipeline, set catalog.IndexedFieldSet) Estimate {
	var out Estimate
	active := set
	for i, st := range p {
		est := EstimateStage(st, active)
		est.Stage = i
		out.Stages = append(out.Stages, est)
		out.Total += est.Cost
		switch st.Kind() {
		case pipeline.KindGroup, pipeline.KindProject, pipeline.KindCount:
			active = catalog.IndexedFieldSet{}
		}
	}
	return out
}

// StagePaths returns the field paths a stage references.
func StagePaths(st pipeline.Stage) []document.FieldPath {
	switch s := st.(type) {
	case *pipeline.Match:
		return s.Predicate.Paths()
	case *pipeline.Unwind:
		return []document.FieldPath{s.Path}
	case *pipeline.Sort:
		out := make([]document.FieldPath, 0, len(s.Keys))
		for _, k := range s.Keys {
			out = append(out, k.Path)
		}
		return out
	case *pipeline.Group:
		out := pipeline.ExprPaths(s.Key)
		for _, acc := range s.Accumulators {
			if acc.Arg != nil {
				out = append(out, pipeline.ExprPaths(acc.Arg)...)
			}
		}
		return out
	case *pipeline.Project:
		var out []document.FieldPath
		for _, f := range s.Fields {
			if f.Expr == nil {
				out = append(out, f.Path)
				continue
			}
			out = append(out, pipeline.ExprPaths(f.Expr)...)
		}
		return append(out, s.Excluded...)
	case *pipeline.AddFields:
		var out []document.FieldPath
		for _, f := range s.Fields {
			out = append(out, pipeline.ExprPaths(f.Expr)...)
		}
		return out
	case *pipeline.Lookup:
		if s.Equality() {
			return []document.FieldPath{s.LocalField}
		}
		return nil
	case *pipeline.Limit, *pipeline.Skip, *pipeline.Count:
		return nil
	default:
		return nil
	}
}
