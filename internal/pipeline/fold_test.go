package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fold(vals ...any) *Fold {
	var f Fold
	for _, v := range vals {
		f.Add(v)
	}
	return &f
}

func TestFold(t *testing.T) {
	tests := []struct {
		name string
		vals []any
		op   AccOp
		want any
	}{
		{"max of numbers", []any{3.0, 7.0}, AccMax, 7.0},
		{"min of numbers", []any{3.0, 7.0}, AccMin, 3.0},
		{"max prefers strings", []any{3.0, "a", 7.0}, AccMax, "a"},
		{"min prefers numbers", []any{"a", 7.0, 3.0}, AccMin, 3.0},
		{"min of strings", []any{"b", "a"}, AccMin, "a"},
		{"other types ignored", []any{true, nil, []any{1.0}}, AccMax, nil},
		{"sum of nothing", nil, AccSum, 0.0},
		{"avg of nothing", []any{"a"}, AccAvg, nil},
		{"compensated sum", []any{1e100, 1.0, -1e100}, AccSum, 1.0},
		{"inexact sum", []any{0.1, 0.2}, AccSum, 0.30000000000000004},
		{"avg", []any{0.1, 0.2}, AccAvg, 0.15000000000000002},
		{"extreme magnitudes", []any{1e300, 1e-300}, AccSum, 1e300},
		{"push is not folded", []any{1.0}, AccPush, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fold(tt.vals...).Result(tt.op))
		})
	}
}
