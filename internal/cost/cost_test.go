package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/catalog"
	"github.com/matthewbaird/docagg/internal/pipeline"
)

func TestFieldMultiplier(t *testing.T) {
	set := catalog.NewIndexedFieldSet("category")

	assert.Equal(t, IdentifierMultiplier, FieldMultiplier("_id", set))
	assert.Equal(t, IndexedMultiplier, FieldMultiplier("category", set))
	assert.Equal(t, UnindexedMultiplier, FieldMultiplier("price", set))

	// Catalog failure: nothing is indexed, not even _id.
	assert.Equal(t, UnindexedMultiplier, FieldMultiplier("_id", catalog.IndexedFieldSet{}))
}

func TestMultiplierOrdering(t *testing.T) {
	assert.LessOrEqual(t, IdentifierMultiplier, IndexedMultiplier)
	assert.LessOrEqual(t, IndexedMultiplier, UnindexedMultiplier)
}

func TestEstimateStage_IndexedIsCheaper(t *testing.T) {
	p := pipeline.MustParse(`[{"$match":{"category":"Cat5"}}]`)

	indexed := EstimateStage(p[0], catalog.NewIndexedFieldSet("category"))
	unindexed := EstimateStage(p[0], catalog.NewIndexedFieldSet())
	assert.Less(t, indexed.Cost, unindexed.Cost)
	require.Len(t, indexed.Fields, 1)
	assert.True(t, indexed.Fields[0].Indexed)
	assert.Equal(t, "$match", indexed.Kind)
}

func TestEstimateStage_BaselineAndDistinctPaths(t *testing.T) {
	p := pipeline.MustParse(`[{"$limit":3},{"$match":{"a":{"$gt":1,"$lt":9}}}]`)
	set := catalog.NewIndexedFieldSet()

	assert.Equal(t, Baseline, EstimateStage(p[0], set).Cost)

	est := EstimateStage(p[1], set)
	assert.Len(t, est.Fields, 1)
	assert.Equal(t, UnindexedMultiplier, est.Cost)
}

func TestEstimatePipeline(t *testing.T) {
	p := pipeline.MustParse(`[
		{"$match":{"_id":"x","category":"c"}},
		{"$sort":{"price":1}},
		{"$group":{"_id":"$category","n":{"$sum":1}}},
		{"$match":{"_id":"c"}}
	]`)
	est := EstimatePipeline(p, catalog.NewIndexedFieldSet("category"))

	require.Len(t, est.Stages, 4)
	assert.InDelta(t, 0.4, est.Stages[0].Cost, 1e-9)
	assert.InDelta(t, 1.0, est.Stages[1].Cost, 1e-9)
	assert.InDelta(t, 0.3, est.Stages[2].Cost, 1e-9)
	// After $group the indexes no longer apply.
	assert.InDelta(t, 1.0, est.Stages[3].Cost, 1e-9)
	assert.InDelta(t, 2.7, est.Total, 1e-9)
	assert.Equal(t, 3, est.Stages[3].Stage)
}

func TestEstimatePipeline_MoreIndexesNeverCostMore(t *testing.T) {
	p := pipeline.MustParse(`[{"$match":{"a":1,"b":2}},{"$sort":{"c":-1}},{"$project":{"a":1,"c":1}}]`)

	sets := []catalog.IndexedFieldSet{
		catalog.NewIndexedFieldSet(),
		catalog.NewIndexedFieldSet("a"),
		catalog.NewIndexedFieldSet("a", "b"),
		catalog.NewIndexedFieldSet("a", "b", "c"),
	}
	prev := EstimatePipeline(p, catalog.IndexedFieldSet{}).Total
	for _, set := range sets {
		total := EstimatePipeline(p, set).Total
		assert.LessOrEqual(t, total, prev)
		prev = total
	}
}

func TestStagePaths(t *testing.T) {
	p := pipeline.MustParse(`[
		{"$unwind":"$tags"},
		{"$lookup":{"from":"o","localField":"cid","foreignField":"id","as":"os"}},
		{"$project":{"x":"$y.z","w":1}},
		{"$count":"n"}
	]`)
	assert.Equal(t, "tags", string(StagePaths(p[0])[0]))
	assert.Equal(t, "cid", string(StagePaths(p[1])[0]))
	assert.Len(t, StagePaths(p[2]), 2)
	assert.Empty(t, StagePaths(p[3]))
}
