package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/docagg/internal/document"
)

func collect(t *testing.T, input string) ([]string, error) {
	t.Helper()
	var out []string
	err := readDocuments(strings.NewReader(input), func(d *document.Document) error {
		out = append(out, d.String())
		return nil
	})
	return out, err
}

func TestReadDocuments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"array", `[{"a":1},{"b":2}]`, []string{`{"a":1}`, `{"b":2}`}},
		{"ndjson", "{\"a\":1}\n{\"b\":[1,2]}\n", []string{`{"a":1}`, `{"b":[1,2]}`}},
		{"mixed", "[{\"a\":1}]\n{\"c\":true}", []string{`{"a":1}`, `{"c":true}`}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collect(t, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadDocuments_Errors(t *testing.T) {
	_, err := collect(t, `[{"a":1}, 2]`)
	assert.ErrorContains(t, err, "element 1: expected an object")

	_, err = collect(t, `{"a":`)
	assert.Error(t, err)
}
