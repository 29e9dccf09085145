// Package autocomplete provides context-aware completions for console input.
package autocomplete

import (
	"context"
	"strings"

	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/repl/command"
	"github.com/matthewbaird/docagg/internal/repl/meta"
)

// CompletionItem is a single autocomplete suggestion.
type CompletionItem struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"` // "verb", "meta", "collection", "stage", "operator", "accumulator", "value"
	Detail     string `json:"detail,omitempty"`
	InsertText string `json:"insert_text,omitempty"`
}

// Lister lists collection names.
type Lister interface {
	Collections(ctx context.Context) ([]string, error)
}

// Engine completes statements, meta-commands, collection names and
// pipeline operators.
type Engine struct {
	lister Lister
}

// New creates an autocomplete engine.
func New(lister Lister) *Engine {
	return &Engine{lister: lister}
}

var helpTopics = []string{"match", "group", "project", "lookup", "unwind"}

// Complete returns suggestions for text with the cursor at the given byte
// offset.
func (e *Engine) Complete(ctx context.Context, text string, cursor int) []CompletionItem {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(text) {
		cursor = len(text)
	}
	prefix := text[:cursor]
	start := WordStart(prefix)
	partial := prefix[start:]
	before := prefix[:start]

	if bracket := strings.IndexByte(before, '['); bracket >= 0 {
		return e.completeInPipeline(before[bracket:], partial)
	}

	words := strings.Fields(before)
	if len(words) == 0 {
		if strings.HasPrefix(partial, ":") {
			return e.completeMeta(strings.TrimPrefix(partial, ":"))
		}
		items := filterItems(command.Verbs, partial, "verb")
		return append(items, e.completeMeta(partial)...)
	}
	if len(words) > 1 {
		return nil
	}

	switch strings.ToLower(words[0]) {
	case "aggregate", "explain", ":use", ":indexes", ":fields":
		return e.completeCollections(ctx, partial)
	case ":help":
		return filterItems(helpTopics, partial, "value")
	case ":fallback":
		return filterItems([]string{"on", "off"}, partial, "value")
	}
	return nil
}

// completeInPipeline suggests stage names at stage-key depth and query
// operators or accumulators deeper down.
func (e *Engine) completeInPipeline(json, partial string) []CompletionItem {
	if !strings.HasPrefix(partial, "$") {
		return nil
	}
	depth := 0
	inString := false
	for i := 0; i < len(json); i++ {
		c := json[i]
		switch {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
		}
	}
	if depth <= 1 {
		return filterItems(pipeline.StageNames(), partial, "stage")
	}
	items := filterItems(pipeline.QueryOperators(), partial, "operator")
	return append(items, filterItems(pipeline.AccumulatorNames(), partial, "accumulator")...)
}

func (e *Engine) completeMeta(partial string) []CompletionItem {
	var items []CompletionItem
	for _, name := range meta.Commands {
		if strings.HasPrefix(name, strings.ToLower(partial)) {
			items = append(items, CompletionItem{Label: ":" + name, Kind: "meta"})
		}
	}
	return items
}

func (e *Engine) completeCollections(ctx context.Context, partial string) []CompletionItem {
	if e.lister == nil {
		return nil
	}
	names, err := e.lister.Collections(ctx)
	if err != nil {
		return nil
	}
	return filterItems(names, partial, "collection")
}

// WordStart returns the offset in prefix where the word being typed begins.
func WordStart(prefix string) int {
	i := len(prefix)
	for i > 0 && isWordByte(prefix[i-1]) {
		i--
	}
	return i
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func filterItems(candidates []string, partial, kind string) []CompletionItem {
	var items []CompletionItem
	lp := strings.ToLower(partial)
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), lp) {
			items = append(items, CompletionItem{Label: c, Kind: kind})
		}
	}
	return items
}
