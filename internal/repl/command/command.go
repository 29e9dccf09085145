// Package command parses console input into statements.
//
// Grammar:
//
//	:<meta> [args...]                  meta-command
//	aggregate [<collection>] <pipeline> run a pipeline
//	explain [<collection>] <pipeline>   show how a pipeline would run
//	<pipeline>                          aggregate on the current collection
//
// A pipeline is a JSON array of stage documents.
package command

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/matthewbaird/docagg/internal/pipeline"
)

// Verb is the kind of statement.
type Verb int

const (
	VerbMeta Verb = iota
	VerbAggregate
	VerbExplain
)

func (v Verb) String() string {
	switch v {
	case VerbMeta:
		return "meta"
	case VerbAggregate:
		return "aggregate"
	case VerbExplain:
		return "explain"
	default:
		return fmt.Sprintf("Verb(%d)", int(v))
	}
}

// Verbs lists the statement keywords.
var Verbs = []string{"aggregate", "explain"}

// Statement is one parsed console line.
type Statement struct {
	Verb       Verb
	Collection string
	Pipeline   pipeline.Pipeline
	Source     string // pipeline JSON as typed

	Command string // meta-command name without the colon
	Args    []string
}

// SyntaxError reports malformed console input.
type SyntaxError struct {
	Message    string
	Pos        int
	Suggestion string
}

func (e *SyntaxError) Error() string {
	msg := fmt.Sprintf("col %d: %s", e.Pos+1, e.Message)
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// Parse parses one line. current is the session's collection, used when
// the statement names none.
func Parse(input, current string) (*Statement, error) {
	lead := len(input) - len(strings.TrimLeftFunc(input, unicode.IsSpace))
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, &SyntaxError{Message: "empty input"}
	}

	if s[0] == ':' {
		fields := strings.Fields(s[1:])
		if len(fields) == 0 {
			return nil, &SyntaxError{Message: "missing meta-command name", Pos: lead + 1}
		}
		return &Statement{Verb: VerbMeta, Command: strings.ToLower(fields[0]), Args: fields[1:]}, nil
	}

	if s[0] == '[' {
		return pipelineStatement(VerbAggregate, current, s, lead)
	}

	word, rest := splitWord(s)
	var verb Verb
	switch strings.ToLower(word) {
	case "aggregate":
		verb = VerbAggregate
	case "explain":
		verb = VerbExplain
	default:
		return nil, &SyntaxError{
			Message:    fmt.Sprintf("unknown statement %q", word),
			Pos:        lead,
			Suggestion: pipeline.SuggestFrom(strings.ToLower(word), Verbs, 2),
		}
	}

	restPos := lead + len(s) - len(rest)
	collection := current
	if rest != "" && rest[0] != '[' {
		name, tail := splitWord(rest)
		if !pipeline.ValidCollectionName(name) {
			return nil, &SyntaxError{Message: fmt.Sprintf("invalid collection name %q", name), Pos: restPos}
		}
		collection = name
		restPos += len(rest) - len(tail)
		rest = tail
	}
	if rest == "" {
		return nil, &SyntaxError{Message: fmt.Sprintf("%s needs a pipeline", verb), Pos: restPos}
	}
	return pipelineStatement(verb, collection, rest, restPos)
}

func pipelineStatement(verb Verb, collection, src string, pos int) (*Statement, error) {
	if collection == "" {
		return nil, &SyntaxError{Message: "no collection selected; name one or use :use <collection>", Pos: pos}
	}
	p, err := pipeline.Parse([]byte(src))
	if err != nil {
		return nil, err
	}
	return &Statement{Verb: verb, Collection: collection, Pipeline: p, Source: src}, nil
}

// splitWord returns the first word of s and the trimmed remainder. A word
// ends at whitespace or at '['.
func splitWord(s string) (string, string) {
	end := strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '[' })
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}
