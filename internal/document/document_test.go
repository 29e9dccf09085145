package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshal_PreservesOrder(t *testing.T) {
	d, err := Unmarshal([]byte(`{"z":1,"a":{"y":true,"b":null},"m":[1,"two",{"k":3}]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"z", "a", "m"}, d.Keys())
	nested, ok := d.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"y", "b"}, nested.(*Document).Keys())

	out, err := Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":{"y":true,"b":null},"m":[1,"two",{"k":3}]}`, string(out))
}

func TestUnmarshal_RejectsNonObject(t *testing.T) {
	_, err := Unmarshal([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "5", FormatNumber(5))
	assert.Equal(t, "-3", FormatNumber(-3))
	assert.Equal(t, "2.5", FormatNumber(2.5))
	assert.Equal(t, "1e+20", FormatNumber(1e20))
	assert.Equal(t, "null", FormatNumber(posInf()))
}

func TestSet_DoesNotMutateReceiver(t *testing.T) {
	orig := MustParse(`{"a":1,"b":2}`)
	changed := orig.Set("a", 10.0).Set("c", "x")

	assert.Equal(t, `{"a":1,"b":2}`, orig.String())
	assert.Equal(t, `{"a":10,"b":2,"c":"x"}`, changed.String())

	removed := changed.Delete("b")
	assert.Equal(t, `{"a":10,"c":"x"}`, removed.String())
	assert.Equal(t, `{"a":10,"b":2,"c":"x"}`, changed.String())
}

func TestNormalize(t *testing.T) {
	d, err := FromMap(map[string]any{"b": 2, "a": []any{int64(1), "x"}, "c": map[string]any{"z": true}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,"x"],"b":2,"c":{"z":true}}`, d.String())

	_, err = Normalize(struct{}{})
	assert.Error(t, err)
}

func TestFieldPath_Resolve(t *testing.T) {
	d := MustParse(`{"a":{"b":[10,{"c":"deep"}]},"tags":["x","y"],"n":null}`)

	tests := []struct {
		path    FieldPath
		want    any
		present bool
	}{
		{"a.b.0", 10.0, true},
		{"a.b.1.c", "deep", true},
		{"a.b.2", nil, false},
		{"tags.1", "y", true},
		{"tags.name", nil, false},
		{"n", nil, true},
		{"missing", nil, false},
		{"a.b.c", nil, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.path), func(t *testing.T) {
			v, ok := tt.path.Resolve(d)
			assert.Equal(t, tt.present, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestFieldPath_Candidates(t *testing.T) {
	d := MustParse(`{"tags":["x","y"],"one":5,"empty":[]}`)

	assert.Equal(t, []any{"x", "y"}, FieldPath("tags").Candidates(d))
	assert.Equal(t, []any{5.0}, FieldPath("one").Candidates(d))
	assert.Equal(t, []any{nil}, FieldPath("nope").Candidates(d))
	assert.Empty(t, FieldPath("empty").Candidates(d))
}

func TestFieldPath_SetAndRemove(t *testing.T) {
	d := MustParse(`{"a":{"b":1},"s":"str"}`)

	assert.Equal(t, `{"a":{"b":2},"s":"str"}`, FieldPath("a.b").Set(d, 2.0).String())
	assert.Equal(t, `{"a":{"b":1},"s":"str","x":{"y":true}}`, FieldPath("x.y").Set(d, true).String())
	assert.Equal(t, d.String(), FieldPath("s.y").Set(d, 1.0).String(), "scalar intermediate is left alone")

	assert.Equal(t, `{"a":{},"s":"str"}`, FieldPath("a.b").Remove(d).String())
	assert.Equal(t, d.String(), FieldPath("a.zzz").Remove(d).String())
	assert.Equal(t, `{"a":{"b":1},"s":"str"}`, d.String())
}

func TestFieldPath_Valid(t *testing.T) {
	assert.True(t, FieldPath("a.b").Valid())
	assert.False(t, FieldPath("").Valid())
	assert.False(t, FieldPath("a..b").Valid())
	assert.False(t, FieldPath("$a").Valid())
	assert.True(t, FieldPath("tags").IsTopLevel())
	assert.False(t, FieldPath("a.b").IsTopLevel())
	assert.True(t, FieldPath("a.0").HasIndexSegment())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(MustParse(`{"a":[1,{"b":2}]}`), MustParse(`{"a":[1,{"b":2}]}`)))
	assert.False(t, Equal(MustParse(`{"a":1,"b":2}`), MustParse(`{"b":2,"a":1}`)), "field order matters")
	assert.False(t, Equal(1.0, "1"))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, false))
}

func TestSortCompare(t *testing.T) {
	// null/missing < number < string < object < array < bool
	ordered := []struct {
		v  any
		ok bool
	}{
		{nil, false},
		{-4.0, true},
		{10.0, true},
		{"a", true},
		{"b", true},
		{MustParse(`{"x":1}`), true},
		{[]any{1.0}, true},
		{false, true},
		{true, true},
	}
	for i := 0; i+1 < len(ordered); i++ {
		a, b := ordered[i], ordered[i+1]
		assert.LessOrEqual(t, SortCompare(a.v, a.ok, b.v, b.ok), 0, "index %d", i)
		assert.GreaterOrEqual(t, SortCompare(b.v, b.ok, a.v, a.ok), 0, "index %d", i)
	}
	assert.Equal(t, 0, SortCompare(nil, true, nil, false), "null and missing tie")
	assert.Equal(t, 0, SortCompare([]any{1.0}, true, []any{2.0}, true), "arrays tie")
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}
