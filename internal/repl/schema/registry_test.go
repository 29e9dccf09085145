package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/document"
)

type sliceLoader []*document.Document

func (s sliceLoader) Load(context.Context, string) ([]*document.Document, error) { return s, nil }

func TestDescribe(t *testing.T) {
	fields := Describe([]*document.Document{
		document.MustParse(`{"_id":"p1","price":10,"dims":{"w":3},"tags":["a"]}`),
		document.MustParse(`{"_id":"p2","price":"n/a","dims":{"w":4,"h":1}}`),
		document.MustParse(`{"_id":"p3","price":null}`),
	})

	assert.Equal(t, []string{"_id", "price", "dims", "dims.w", "tags", "dims.h"}, Paths(fields))
	assert.Equal(t, FieldInfo{Path: "price", Types: []string{"null", "number", "string"}, Count: 3}, fields[1])
	assert.Equal(t, FieldInfo{Path: "dims.w", Types: []string{"number"}, Count: 2}, fields[3])
	assert.Equal(t, FieldInfo{Path: "tags", Types: []string{"array"}, Count: 1}, fields[4])
}

func TestDescribe_Empty(t *testing.T) {
	assert.Empty(t, Describe(nil))
}

func TestRegistry_Samples(t *testing.T) {
	docs := sliceLoader{
		document.MustParse(`{"a":1}`),
		document.MustParse(`{"b":1}`),
		document.MustParse(`{"c":1}`),
	}
	fields, err := NewRegistry(docs, 2).Fields(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, Paths(fields))
}

type failingLoader struct{}

func (failingLoader) Load(context.Context, string) ([]*document.Document, error) {
	return nil, errors.New("collection not found")
}

func TestRegistry_LoadError(t *testing.T) {
	_, err := NewRegistry(failingLoader{}, 0).Fields(context.Background(), "x")
	assert.Error(t, err)
}
