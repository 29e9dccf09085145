package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/pipeline"
)

func TestParse_Meta(t *testing.T) {
	st, err := Parse("  :USE products ", "")
	require.NoError(t, err)
	assert.Equal(t, VerbMeta, st.Verb)
	assert.Equal(t, "use", st.Command)
	assert.Equal(t, []string{"products"}, st.Args)
}

func TestParse_AggregateWithCollection(t *testing.T) {
	st, err := Parse(`aggregate products [{"$limit": 2}]`, "other")
	require.NoError(t, err)
	assert.Equal(t, VerbAggregate, st.Verb)
	assert.Equal(t, "products", st.Collection)
	require.Len(t, st.Pipeline, 1)
	assert.Equal(t, pipeline.KindLimit, st.Pipeline[0].Kind())
}

func TestParse_ExplainCurrentCollection(t *testing.T) {
	st, err := Parse(`explain [{"$match": {"a": 1}}]`, "orders")
	require.NoError(t, err)
	assert.Equal(t, VerbExplain, st.Verb)
	assert.Equal(t, "orders", st.Collection)
}

func TestParse_BarePipeline(t *testing.T) {
	st, err := Parse(`[{"$skip": 1}]`, "orders")
	require.NoError(t, err)
	assert.Equal(t, VerbAggregate, st.Verb)
	assert.Equal(t, "orders", st.Collection)
	assert.Equal(t, `[{"$skip": 1}]`, st.Source)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		current string
		want    string
	}{
		{"empty", "   ", "c", "empty input"},
		{"bare colon", ":", "c", "missing meta-command"},
		{"no collection", `[{"$limit": 1}]`, "", "no collection selected"},
		{"no pipeline", "aggregate products", "", "needs a pipeline"},
		{"bad collection", `aggregate 9lives [{"$limit": 1}]`, "", "invalid collection name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input, tt.current)
			var se *SyntaxError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Contains(t, se.Message, tt.want)
		})
	}
}

func TestParse_UnknownVerbSuggests(t *testing.T) {
	_, err := Parse(`agregate c [{"$limit": 1}]`, "")
	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "did you mean 'aggregate'?", se.Suggestion)
}

func TestParse_PipelineErrorPassesThrough(t *testing.T) {
	_, err := Parse(`[{"$mach": {}}]`, "c")
	var de *pipeline.DefinitionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 0, de.Stage)
}
