package interp

import (
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

type bucket struct {
	key  any
	docs []*document.Document
}

// group buckets documents by the canonical JSON of their key and emits one
// document per bucket in order of first appearance.
func group(s *pipeline.Group, docs []*document.Document) []*document.Document {
	var order []*bucket
	byKey := make(map[string]*bucket)
	for _, d := range docs {
		key, ok := s.Key.Eval(d)
		if !ok {
			key = nil
		}
		text, err := document.MarshalValue(key)
		if err != nil {
			text = []byte("null")
		}
		b, seen := byKey[string(text)]
		if !seen {
			b = &bucket{key: key}
			byKey[string(text)] = b
			order = append(order, b)
		}
		b.docs = append(b.docs, d)
	}

	out := make([]*document.Document, 0, len(order))
	for _, b := range order {
		fields := make([]document.Field, 0, len(s.Accumulators)+1)
		fields = append(fields, document.Field{Key: document.IDField, Value: b.key})
		for _, acc := range s.Accumulators {
			fields = append(fields, document.Field{Key: acc.Name, Value: accumulate(acc, b.docs)})
		}
		out = append(out, document.New(fields...))
	}
	return out
}

func accumulate(acc pipeline.Accumulator, docs []*document.Document) any {
	switch acc.Op {
	case pipeline.AccCount:
		return float64(len(docs))
	case pipeline.AccPush:
		vals := make([]any, 0, len(docs))
		for _, d := range docs {
			if v, ok := acc.Arg.Eval(d); ok {
				vals = append(vals, v)
			}
		}
		return vals
	case pipeline.AccAddToSet:
		var vals []any
		for _, d := range docs {
			v, ok := acc.Arg.Eval(d)
			if !ok || containsValue(vals, v) {
				continue
			}
			vals = append(vals, v)
		}
		if vals == nil {
			vals = []any{}
		}
		return vals
	case pipeline.AccFirst, pipeline.AccLast:
		d := docs[0]
		if acc.Op == pipeline.AccLast {
			d = docs[len(docs)-1]
		}
		v, ok := acc.Arg.Eval(d)
		if !ok {
			return nil
		}
		return v
	}

	var fold pipeline.Fold
	if lit, ok := acc.Arg.(*pipeline.Literal); ok {
		switch v := lit.Value.(type) {
		case float64:
			if acc.Op != pipeline.AccSum {
				return v
			}
			// Summed once per document, like a field holding v.
			for range docs {
				fold.Add(v)
			}
			return fold.Result(acc.Op)
		case string:
			switch acc.Op {
			case pipeline.AccSum:
				return 0.0
			case pipeline.AccAvg:
				return nil
			}
			return v
		}
	}

	if isFieldRef(acc.Arg) {
		for _, d := range docs {
			if v, ok := acc.Arg.Eval(d); ok {
				fold.Add(v)
			}
		}
	}
	return fold.Result(acc.Op)
}

func isFieldRef(e pipeline.Expr) bool {
	_, ok := e.(*pipeline.FieldRef)
	return ok
}

func containsValue(vals []any, v any) bool {
	for _, x := range vals {
		if document.Equal(x, v) {
			return true
		}
	}
	return false
}
