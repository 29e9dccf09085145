package pipeline

import "fmt"

// DefinitionError reports a structurally invalid pipeline. It is raised
// before either execution path runs and is never recoverable.
type DefinitionError struct {
	Stage      int    // zero-based stage index, -1 for the pipeline itself
	Operator   string // stage or query operator involved, e.g. "$project"
	Message    string
	Suggestion string // "did you mean '$match'?" or ""
}

func (e *DefinitionError) Error() string {
	var msg string
	switch {
	case e.Stage < 0:
		msg = e.Message
	case e.Operator != "":
		msg = fmt.Sprintf("stage %d (%s): %s", e.Stage, e.Operator, e.Message)
	default:
		msg = fmt.Sprintf("stage %d: %s", e.Stage, e.Message)
	}
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// newDefinitionErrorf creates a formatted DefinitionError for a stage.
func newDefinitionErrorf(stage int, op string, format string, args ...any) *DefinitionError {
	return &DefinitionError{
		Stage:    stage,
		Operator: op,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Levenshtein computes the edit distance between two strings.
func Levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr := make([]int, lb+1)
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev = curr
	}
	return prev[lb]
}

// SuggestFrom finds the closest match from candidates within a maximum
// edit distance. Returns "" if no good match is found.
func SuggestFrom(input string, candidates []string, maxDist int) string {
	best := ""
	bestDist := maxDist + 1
	for _, c := range candidates {
		d := Levenshtein(input, c)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist <= maxDist {
		return fmt.Sprintf("did you mean '%s'?", best)
	}
	return ""
}
