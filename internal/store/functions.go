package store

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"modernc.org/sqlite"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

// Aggregate functions registered with the engine. Each takes the JSON text
// of one value per row (NULL when missing) and returns the JSON text of the
// result, or NULL. Values never pass through SQLite's REAL arithmetic.
var foldFuncs = map[pipeline.AccOp]string{
	pipeline.AccSum: "docagg_sum",
	pipeline.AccAvg: "docagg_avg",
	pipeline.AccMin: "docagg_min",
	pipeline.AccMax: "docagg_max",
}

// FoldFunc returns the name of the SQL aggregate computing op.
func FoldFunc(op pipeline.AccOp) (string, bool) {
	name, ok := foldFuncs[op]
	return name, ok
}

func init() {
	for op, name := range foldFuncs {
		sqlite.MustRegisterFunction(name, &sqlite.FunctionImpl{
			NArgs:         1,
			Deterministic: true,
			MakeAggregate: func(sqlite.FunctionContext) (sqlite.AggregateFunction, error) {
				return &foldFunc{name: name, op: op}, nil
			},
		})
	}
}

type foldFunc struct {
	name string
	op   pipeline.AccOp
	fold pipeline.Fold
}

func (f *foldFunc) Step(_ *sqlite.FunctionContext, args []driver.Value) error {
	switch v := args[0].(type) {
	case nil:
	case string:
		val, err := document.UnmarshalValue([]byte(v))
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		f.fold.Add(val)
	case int64:
		f.fold.Add(float64(v))
	case float64:
		f.fold.Add(v)
	default:
		return fmt.Errorf("%s: unexpected argument %T", f.name, v)
	}
	return nil
}

func (f *foldFunc) WindowInverse(*sqlite.FunctionContext, []driver.Value) error {
	return errors.New(f.name + " cannot be used as a window function")
}

func (f *foldFunc) WindowValue(*sqlite.FunctionContext) (driver.Value, error) {
	v := f.fold.Result(f.op)
	if v == nil {
		return nil, nil
	}
	b, err := document.MarshalValue(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	return string(b), nil
}

func (f *foldFunc) Final(*sqlite.FunctionContext) {}
