package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/document"
)

func parse(t *testing.T, input string) Pipeline {
	t.Helper()
	p, err := Parse([]byte(input))
	require.NoError(t, err)
	return p
}

func definitionError(t *testing.T, input string) *DefinitionError {
	t.Helper()
	_, err := Parse([]byte(input))
	require.Error(t, err)
	var de *DefinitionError
	require.True(t, errors.As(err, &de), "expected DefinitionError, got %T", err)
	return de
}

func TestParse_MatchImplicitEquality(t *testing.T) {
	p := parse(t, `[{"$match":{"category":"Cat5"}},{"$limit":10}]`)
	require.Len(t, p, 2)

	m, ok := p[0].(*Match)
	require.True(t, ok)
	cmp, ok := m.Predicate.(*Compare)
	require.True(t, ok)
	assert.Equal(t, document.FieldPath("category"), cmp.Path)
	assert.Equal(t, OpEq, cmp.Op)
	assert.Equal(t, "Cat5", cmp.Value)

	lim, ok := p[1].(*Limit)
	require.True(t, ok)
	assert.Equal(t, int64(10), lim.N)
}

func TestParse_MatchOperators(t *testing.T) {
	p := parse(t, `[{"$match":{"qty":{"$gte":5,"$lt":10},"status":{"$ne":"done"},"tag":{"$nin":["a","b"]}}}]`)
	m := p[0].(*Match)

	and, ok := m.Predicate.(*Logical)
	require.True(t, ok)
	assert.Equal(t, LogicAnd, and.Op)
	require.Len(t, and.Children, 3)

	qty := and.Children[0].(*Logical)
	assert.Equal(t, OpGte, qty.Children[0].(*Compare).Op)
	assert.Equal(t, OpLt, qty.Children[1].(*Compare).Op)

	ne := and.Children[1].(*Not)
	assert.Equal(t, OpEq, ne.Inner.(*Compare).Op)

	nin := and.Children[2].(*Not)
	in := nin.Inner.(*In)
	assert.Equal(t, []any{"a", "b"}, in.Values)

	assert.ElementsMatch(t,
		[]document.FieldPath{"qty", "qty", "status", "tag"},
		m.Predicate.Paths())
}

func TestParse_MatchLogical(t *testing.T) {
	p := parse(t, `[{"$match":{"$or":[{"a":1},{"b":{"$exists":false}}]}}]`)
	or := p[0].(*Match).Predicate.(*Logical)
	assert.Equal(t, LogicOr, or.Op)
	require.Len(t, or.Children, 2)

	ex := or.Children[1].(*Exists)
	assert.False(t, ex.Want)
}

func TestParse_MatchRegex(t *testing.T) {
	p := parse(t, `[{"$match":{"name":{"$regex":"^ab","$options":"i"}}}]`)
	re := p[0].(*Match).Predicate.(*Regex)
	assert.Equal(t, "^ab", re.Pattern)
	assert.Equal(t, "i", re.Options)
	assert.True(t, re.Re.MatchString("ABC"))
}

func TestParse_MatchSizeAndNot(t *testing.T) {
	p := parse(t, `[{"$match":{"tags":{"$size":2},"n":{"$not":{"$gt":3}}}}]`)
	and := p[0].(*Match).Predicate.(*Logical)
	assert.Equal(t, 2, and.Children[0].(*Size).N)
	not := and.Children[1].(*Not)
	assert.Equal(t, OpGt, not.Inner.(*Compare).Op)
}

func TestParse_Unwind(t *testing.T) {
	p := parse(t, `[{"$unwind":"$tags"},{"$unwind":{"path":"$items","includeArrayIndex":"idx","preserveNullAndEmptyArrays":true}}]`)

	u := p[0].(*Unwind)
	assert.Equal(t, document.FieldPath("tags"), u.Path)
	assert.False(t, u.PreserveNullAndEmptyArrays)

	u2 := p[1].(*Unwind)
	assert.Equal(t, document.FieldPath("items"), u2.Path)
	assert.Equal(t, document.FieldPath("idx"), u2.IncludeArrayIndex)
	assert.True(t, u2.PreserveNullAndEmptyArrays)
}

func TestParse_Sort(t *testing.T) {
	p := parse(t, `[{"$sort":{"a":1,"b.c":-1}}]`)
	s := p[0].(*Sort)
	assert.Equal(t, []SortKey{{Path: "a"}, {Path: "b.c", Desc: true}}, s.Keys)
}

func TestParse_Group(t *testing.T) {
	p := parse(t, `[{"$group":{"_id":"$category","total":{"$sum":"$price"},"n":{"$sum":1},"c":{"$count":{}},"names":{"$push":"$name"}}}]`)
	g := p[0].(*Group)

	assert.Equal(t, &FieldRef{Path: "category"}, g.Key)
	require.Len(t, g.Accumulators, 4)
	assert.Equal(t, Accumulator{Name: "total", Op: AccSum, Arg: &FieldRef{Path: "price"}}, g.Accumulators[0])
	assert.Equal(t, Accumulator{Name: "n", Op: AccSum, Arg: &Literal{Value: 1.0}}, g.Accumulators[1])
	assert.Equal(t, Accumulator{Name: "c", Op: AccCount}, g.Accumulators[2])
	assert.Equal(t, AccPush, g.Accumulators[3].Op)
}

func TestParse_GroupCompoundKey(t *testing.T) {
	p := parse(t, `[{"$group":{"_id":{"cat":"$category","y":"$year"}}}]`)
	key, ok := p[0].(*Group).Key.(*ObjectExpr)
	require.True(t, ok)
	require.Len(t, key.Fields, 2)
	assert.Equal(t, "cat", key.Fields[0].Name)
	assert.Equal(t, []document.FieldPath{"category", "year"}, ExprPaths(key))
}

func TestParse_ProjectModes(t *testing.T) {
	p := parse(t, `[{"$project":{"_id":0,"name":1,"price":"$cost"}}]`)
	proj := p[0].(*Project)
	assert.Equal(t, ProjectInclude, proj.Mode)
	assert.True(t, proj.ExcludeID)
	require.Len(t, proj.Fields, 2)
	assert.Nil(t, proj.Fields[0].Expr)
	assert.Equal(t, &FieldRef{Path: "cost"}, proj.Fields[1].Expr)

	p = parse(t, `[{"$project":{"secret":0,"internal.note":false}}]`)
	proj = p[0].(*Project)
	assert.Equal(t, ProjectExclude, proj.Mode)
	assert.Equal(t, []document.FieldPath{"secret", "internal.note"}, proj.Excluded)

	p = parse(t, `[{"$project":{"_id":0}}]`)
	proj = p[0].(*Project)
	assert.Equal(t, ProjectExclude, proj.Mode)
	assert.True(t, proj.ExcludeID)
}

func TestParse_Lookup(t *testing.T) {
	p := parse(t, `[{"$lookup":{"from":"orders","localField":"_id","foreignField":"customer","as":"orders"}}]`)
	l := p[0].(*Lookup)
	assert.Equal(t, "orders", l.From)
	assert.True(t, l.Equality())
	assert.Nil(t, l.Pipeline)

	p = parse(t, `[{"$lookup":{"from":"orders","as":"recent","pipeline":[{"$limit":1}]}}]`)
	l = p[0].(*Lookup)
	assert.False(t, l.Equality())
	require.Len(t, l.Pipeline, 1)
}

func TestParse_AddFieldsAndCount(t *testing.T) {
	p := parse(t, `[{"$set":{"flag":true,"copy":"$a"}},{"$count":"total"}]`)
	a := p[0].(*AddFields)
	require.Len(t, a.Fields, 2)
	assert.Equal(t, &Literal{Value: true}, a.Fields[0].Expr)
	assert.Equal(t, KindAddFields, a.Kind())

	c := p[1].(*Count)
	assert.Equal(t, "total", c.Field)
}

func TestParse_DefinitionErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		stage int
		op    string
	}{
		{"not an array", `{"$match":{}}`, -1, ""},
		{"two operators", `[{"$match":{},"$limit":1}]`, 0, ""},
		{"mixed projection", `[{"$project":{"a":1,"b":0}}]`, 0, "$project"},
		{"zero limit", `[{"$limit":0}]`, 0, "$limit"},
		{"fractional skip", `[{"$skip":1.5}]`, 0, "$skip"},
		{"bad sort direction", `[{"$sort":{"a":2}}]`, 0, "$sort"},
		{"group without id", `[{"$match":{}},{"$group":{"n":{"$sum":1}}}]`, 1, "$group"},
		{"unwind without dollar", `[{"$unwind":"tags"}]`, 0, "$unwind"},
		{"lookup without as", `[{"$lookup":{"from":"x","localField":"a","foreignField":"b"}}]`, 0, "$lookup"},
		{"lookup half condition", `[{"$lookup":{"from":"x","localField":"a","as":"y"}}]`, 0, "$lookup"},
		{"in needs array", `[{"$match":{"a":{"$in":1}}}]`, 0, "$in"},
		{"options without regex", `[{"$match":{"a":{"$options":"i"}}}]`, 0, "$options"},
		{"project collision", `[{"$project":{"a":1,"a.b":1}}]`, 0, "$project"},
		{"count with dot", `[{"$count":"a.b"}]`, 0, "$count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := definitionError(t, tt.input)
			assert.Equal(t, tt.stage, de.Stage)
			assert.Equal(t, tt.op, de.Operator)
		})
	}
}

func TestParse_Suggestions(t *testing.T) {
	de := definitionError(t, `[{"$mtch":{"a":1}}]`)
	assert.Equal(t, "did you mean '$match'?", de.Suggestion)
	assert.Contains(t, de.Error(), "did you mean '$match'?")

	de = definitionError(t, `[{"$match":{"a":{"$gtee":1}}}]`)
	assert.Equal(t, "did you mean '$gte'?", de.Suggestion)

	de = definitionError(t, `[{"$group":{"_id":null,"s":{"$summ":"$x"}}}]`)
	assert.Equal(t, "did you mean '$sum'?", de.Suggestion)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("abc", "abc"))
	assert.Equal(t, 1, Levenshtein("abc", "ab"))
	assert.Equal(t, 3, Levenshtein("", "abc"))
	assert.Equal(t, 1, Levenshtein("$mtch", "$match"))
}

func TestExpr_Eval(t *testing.T) {
	d := document.MustParse(`{"a":{"b":2},"c":"x"}`)

	v, ok := (&FieldRef{Path: "a.b"}).Eval(d)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = (&FieldRef{Path: "zz"}).Eval(d)
	assert.False(t, ok)

	obj := &ObjectExpr{Fields: []NamedExpr{{Name: "k", Expr: &FieldRef{Path: "c"}}, {Name: "m", Expr: &FieldRef{Path: "zz"}}}}
	v, ok = obj.Eval(d)
	require.True(t, ok)
	assert.Equal(t, `{"k":"x","m":null}`, v.(*document.Document).String())
}
