package store

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/matthewbaird/docagg/internal/document"
)

var plainLabel = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// JSONPath converts a field path to an SQLite JSON path ("a.0.b" becomes
// "$.a[0].b"). Labels that are not plain identifiers are double-quoted.
// ok is false when a label cannot be expressed (it contains '"').
func JSONPath(p document.FieldPath) (string, bool) {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p.Segments() {
		switch {
		case document.IsIndexSegment(seg):
			n, err := strconv.Atoi(seg)
			if err != nil {
				return "", false
			}
			b.WriteString("[" + strconv.Itoa(n) + "]")
		case plainLabel.MatchString(seg):
			b.WriteString("." + seg)
		case strings.ContainsAny(seg, `"`):
			return "", false
		default:
			b.WriteString(`."` + seg + `"`)
		}
	}
	return b.String(), true
}

// ParseJSONPath is the inverse of JSONPath.
func ParseJSONPath(s string) (document.FieldPath, bool) {
	if !strings.HasPrefix(s, "$") {
		return "", false
	}
	rest := s[1:]
	var segs []string
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if strings.HasPrefix(rest, `"`) {
				end := strings.IndexByte(rest[1:], '"')
				if end < 0 {
					return "", false
				}
				segs = append(segs, rest[1:end+1])
				rest = rest[end+2:]
				continue
			}
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return "", false
			}
			segs = append(segs, rest[:end])
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 || !document.IsIndexSegment(rest[1:end]) {
				return "", false
			}
			segs = append(segs, rest[1:end])
			rest = rest[end+1:]
		default:
			return "", false
		}
	}
	if len(segs) == 0 {
		return "", false
	}
	return document.FieldPath(strings.Join(segs, ".")), true
}

// QuoteIdent double-quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral single-quotes an SQL string literal. Only used in DDL,
// where parameters cannot be bound.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
