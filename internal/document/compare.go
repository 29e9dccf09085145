package document

import (
	"math"
	"strings"
)

// Class is the ordering bracket a value belongs to. Missing values share
// the null bracket.
type Class int

const (
	ClassNull Class = iota
	ClassNumber
	ClassString
	ClassObject
	ClassArray
	ClassBool
)

// ClassOf returns the bracket of v. present=false means the path was missing.
func ClassOf(v any, present bool) Class {
	if !present {
		return ClassNull
	}
	switch v.(type) {
	case nil:
		return ClassNull
	case float64:
		return ClassNumber
	case string:
		return ClassString
	case *Document:
		return ClassObject
	case []any:
		return ClassArray
	case bool:
		return ClassBool
	default:
		return ClassNull
	}
}

// TypeName returns the JSON type name of v.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case *Document:
		return "object"
	default:
		return "unknown"
	}
}

// IsScalar reports whether v is null, boolean, number or string.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	}
	return false
}

// Equal reports deep equality. Document field order is significant.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Document:
		y, ok := b.(*Document)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i := range x.fields {
			if x.fields[i].Key != y.fields[i].Key || !Equal(x.fields[i].Value, y.fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CompareScalars orders two values of the same class. ok is false when the
// classes differ or the class has no ordering (objects, arrays).
func CompareScalars(a, b any) (cmp int, ok bool) {
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case float64:
		if y, isNum := b.(float64); isNum {
			return compareFloat(x, y), true
		}
	case string:
		if y, isStr := b.(string); isStr {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, isBool := b.(bool); isBool {
			return compareBool(x, y), true
		}
	}
	return 0, false
}

// SortCompare orders two path lookups for $sort: by class first, then by
// value within number, string and boolean classes. Objects and arrays
// compare equal within their class.
func SortCompare(a any, aok bool, b any, bok bool) int {
	ca, cb := ClassOf(a, aok), ClassOf(b, bok)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case ClassNumber:
		return compareFloat(a.(float64), b.(float64))
	case ClassString:
		return strings.Compare(a.(string), b.(string))
	case ClassBool:
		return compareBool(a.(bool), b.(bool))
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	// NaN sorts below every number.
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	default:
		return 1
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
