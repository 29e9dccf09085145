package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReader_FetchReflectsCurrentIndexes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Insert(ctx, "products", document.MustParse(`{"category":"Cat1","dims":{"w":3}}`))
	require.NoError(t, err)

	r := NewReader(s)
	set, err := r.Fetch(ctx, "products")
	require.NoError(t, err)
	assert.True(t, set.Has("_id"))
	assert.False(t, set.Has("category"))
	assert.Equal(t, 1, set.Len())

	_, err = s.CreateIndex(ctx, "products", "category")
	require.NoError(t, err)
	_, err = s.CreateIndex(ctx, "products", "dims.w")
	require.NoError(t, err)

	set, err = r.Fetch(ctx, "products")
	require.NoError(t, err)
	assert.True(t, set.Has("category"))
	assert.True(t, set.Has("dims.w"))
	assert.Equal(t, "idx_products.category", set.IndexName("category"))
	assert.Equal(t, []document.FieldPath{"_id", "category", "dims.w"}, set.Paths())
}

func TestReader_UnknownCollection(t *testing.T) {
	r := NewReader(openStore(t))
	_, err := r.Fetch(context.Background(), "nope")
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "nope", ce.Collection)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestIndexedPath(t *testing.T) {
	tests := []struct {
		ddl  string
		want document.FieldPath
		ok   bool
	}{
		{`CREATE INDEX "idx_p_a" ON "p" (json_extract(data, '$.a'))`, "a", true},
		{`CREATE INDEX idx ON p(json_extract("data",'$.a.b[2]') DESC)`, "a.b.2", true},
		{`CREATE INDEX idx ON p (json_extract(data, '$."odd key"'))`, "odd key", true},
		{`CREATE UNIQUE INDEX idx ON p (json_extract(data, '$.sku'))`, "sku", true},
		{`CREATE INDEX idx ON p (json_extract(data, '$.a')) WHERE json_extract(data, '$.a') > 1`, "", false},
		{`CREATE INDEX idx ON p (json_extract(data, '$.a'), json_extract(data, '$.b'))`, "", false},
		{`CREATE INDEX idx ON p (id)`, "", false},
		{``, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ddl, func(t *testing.T) {
			got, ok := IndexedPath(tt.ddl)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewIndexedFieldSet(t *testing.T) {
	set := NewIndexedFieldSet("a", "a")
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.IsIdentifier("_id"))
	assert.False(t, set.IsIdentifier("a"))
}
