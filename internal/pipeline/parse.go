package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/matthewbaird/docagg/internal/document"
)

// stageNames lists accepted stage operators, for suggestions.
var stageNames = []string{
	"$match", "$unwind", "$sort", "$limit", "$skip", "$group",
	"$project", "$lookup", "$addFields", "$set", "$count",
}

// queryOperators lists accepted field-level $match operators.
var queryOperators = []string{
	"$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in", "$nin",
	"$exists", "$size", "$not", "$regex", "$options",
}

// accumulatorNames lists accepted $group accumulators.
var accumulatorNames = []string{
	"$sum", "$avg", "$min", "$max", "$count", "$push", "$addToSet", "$first", "$last",
}

// StageNames returns the accepted stage operators.
func StageNames() []string { return append([]string(nil), stageNames...) }

// QueryOperators returns the accepted $match operators.
func QueryOperators() []string { return append([]string(nil), queryOperators...) }

// AccumulatorNames returns the accepted $group accumulators.
func AccumulatorNames() []string { return append([]string(nil), accumulatorNames...) }

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidCollectionName reports whether name can be used as a collection.
func ValidCollectionName(name string) bool {
	return collectionName.MatchString(name)
}

// Parse decodes a JSON array of stage documents into a Pipeline.
func Parse(data []byte) (Pipeline, error) {
	v, err := document.UnmarshalValue(data)
	if err != nil {
		return nil, &DefinitionError{Stage: -1, Message: fmt.Sprintf("invalid pipeline JSON: %v", err)}
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &DefinitionError{Stage: -1, Message: "pipeline must be a JSON array of stages"}
	}
	return FromValues(arr)
}

// FromValues builds a Pipeline from already-decoded stage documents.
func FromValues(stages []any) (Pipeline, error) {
	p := make(Pipeline, 0, len(stages))
	for i, raw := range stages {
		d, ok := raw.(*document.Document)
		if !ok {
			return nil, newDefinitionErrorf(i, "", "stage must be an object, got %s", document.TypeName(raw))
		}
		st, err := parseStage(i, d)
		if err != nil {
			return nil, err
		}
		p = append(p, st)
	}
	return p, nil
}

// MustParse parses a pipeline and panics on error. Intended for tests.
func MustParse(s string) Pipeline {
	p, err := Parse([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("pipeline.MustParse: %v", err))
	}
	return p
}

func parseStage(i int, d *document.Document) (Stage, error) {
	if d.Len() != 1 {
		return nil, newDefinitionErrorf(i, "", "stage must have exactly one operator, got %d", d.Len())
	}
	f := d.Fields()[0]
	switch f.Key {
	case "$match":
		spec, ok := f.Value.(*document.Document)
		if !ok {
			return nil, newDefinitionErrorf(i, f.Key, "argument must be an object")
		}
		pred, err := parsePredicateDoc(i, spec)
		if err != nil {
			return nil, err
		}
		return &Match{Predicate: pred}, nil
	case "$unwind":
		return parseUnwind(i, f.Value)
	case "$sort":
		return parseSort(i, f.Value)
	case "$limit":
		n, err := parseCount(i, f.Key, f.Value, 1)
		if err != nil {
			return nil, err
		}
		return &Limit{N: n}, nil
	case "$skip":
		n, err := parseCount(i, f.Key, f.Value, 0)
		if err != nil {
			return nil, err
		}
		return &Skip{N: n}, nil
	case "$group":
		return parseGroup(i, f.Value)
	case "$project":
		return parseProject(i, f.Value)
	case "$lookup":
		return parseLookup(i, f.Value)
	case "$addFields", "$set":
		return parseAddFields(i, f.Key, f.Value)
	case "$count":
		name, ok := f.Value.(string)
		if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return nil, newDefinitionErrorf(i, f.Key, "argument must be a non-empty field name without '$' or '.'")
		}
		return &Count{Field: name}, nil
	default:
		err := newDefinitionErrorf(i, f.Key, "unknown stage")
		err.Suggestion = SuggestFrom(f.Key, stageNames, 3)
		return nil, err
	}
}

// ── $match ──────────────────────────────────────────────────────────────────

func parsePredicateDoc(i int, d *document.Document) (Predicate, error) {
	var children []Predicate
	for _, f := range d.Fields() {
		switch f.Key {
		case "$and", "$or", "$nor":
			p, err := parseLogical(i, f.Key, f.Value)
			if err != nil {
				return nil, err
			}
			children = append(children, p)
			continue
		}
		if strings.HasPrefix(f.Key, "$") {
			err := newDefinitionErrorf(i, f.Key, "unknown top-level query operator")
			err.Suggestion = SuggestFrom(f.Key, []string{"$and", "$or", "$nor"}, 2)
			return nil, err
		}
		path := document.FieldPath(f.Key)
		if !path.Valid() {
			return nil, newDefinitionErrorf(i, "$match", "invalid field path %q", f.Key)
		}
		p, err := parseFieldCondition(i, path, f.Value)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Logical{Op: LogicAnd, Children: children}, nil
}

func parseLogical(i int, op string, v any) (Predicate, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, newDefinitionErrorf(i, op, "argument must be a non-empty array")
	}
	children := make([]Predicate, 0, len(arr))
	for _, item := range arr {
		sub, ok := item.(*document.Document)
		if !ok {
			return nil, newDefinitionErrorf(i, op, "array elements must be objects")
		}
		p, err := parsePredicateDoc(i, sub)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	lop := LogicAnd
	switch op {
	case "$or":
		lop = LogicOr
	case "$nor":
		lop = LogicNor
	}
	return &Logical{Op: lop, Children: children}, nil
}

// isOperatorDoc reports whether v is an object whose keys are operators.
func isOperatorDoc(v any) (*document.Document, bool) {
	d, ok := v.(*document.Document)
	if !ok || d.Len() == 0 {
		return nil, false
	}
	return d, strings.HasPrefix(d.Keys()[0], "$")
}

func parseFieldCondition(i int, path document.FieldPath, v any) (Predicate, error) {
	ops, ok := isOperatorDoc(v)
	if !ok {
		return &Compare{Path: path, Op: OpEq, Value: v}, nil
	}
	return parseOperatorDoc(i, path, ops)
}

func parseOperatorDoc(i int, path document.FieldPath, ops *document.Document) (Predicate, error) {
	var children []Predicate
	options, hasOptions := ops.Get("$options")
	for _, f := range ops.Fields() {
		if !strings.HasPrefix(f.Key, "$") {
			return nil, newDefinitionErrorf(i, "$match", "cannot mix operators and fields in condition for %q", path)
		}
		var p Predicate
		switch f.Key {
		case "$eq":
			p = &Compare{Path: path, Op: OpEq, Value: f.Value}
		case "$ne":
			p = &Not{Inner: &Compare{Path: path, Op: OpEq, Value: f.Value}}
		case "$gt":
			p = &Compare{Path: path, Op: OpGt, Value: f.Value}
		case "$gte":
			p = &Compare{Path: path, Op: OpGte, Value: f.Value}
		case "$lt":
			p = &Compare{Path: path, Op: OpLt, Value: f.Value}
		case "$lte":
			p = &Compare{Path: path, Op: OpLte, Value: f.Value}
		case "$in", "$nin":
			arr, ok := f.Value.([]any)
			if !ok {
				return nil, newDefinitionErrorf(i, f.Key, "argument must be an array")
			}
			p = &In{Path: path, Values: arr}
			if f.Key == "$nin" {
				p = &Not{Inner: p}
			}
		case "$exists":
			p = &Exists{Path: path, Want: truthy(f.Value)}
		case "$size":
			n, ok := f.Value.(float64)
			if !ok || n < 0 || n != math.Trunc(n) {
				return nil, newDefinitionErrorf(i, f.Key, "argument must be a non-negative integer")
			}
			p = &Size{Path: path, N: int(n)}
		case "$not":
			inner, ok := isOperatorDoc(f.Value)
			if !ok {
				return nil, newDefinitionErrorf(i, f.Key, "argument must be an operator object")
			}
			sub, err := parseOperatorDoc(i, path, inner)
			if err != nil {
				return nil, err
			}
			p = &Not{Inner: sub}
		case "$regex":
			pattern, ok := f.Value.(string)
			if !ok {
				return nil, newDefinitionErrorf(i, f.Key, "argument must be a string")
			}
			opts := ""
			if hasOptions {
				s, ok := options.(string)
				if !ok {
					return nil, newDefinitionErrorf(i, "$options", "argument must be a string")
				}
				opts = s
			}
			re, err := compileRegex(pattern, opts)
			if err != nil {
				return nil, newDefinitionErrorf(i, f.Key, "%v", err)
			}
			p = &Regex{Path: path, Pattern: pattern, Options: opts, Re: re}
		case "$options":
			if !ops.Has("$regex") {
				return nil, newDefinitionErrorf(i, f.Key, "$options requires $regex")
			}
			continue
		default:
			err := newDefinitionErrorf(i, f.Key, "unknown query operator")
			err.Suggestion = SuggestFrom(f.Key, queryOperators, 2)
			return nil, err
		}
		children = append(children, p)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Logical{Op: LogicAnd, Children: children}, nil
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	var flags string
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		default:
			return nil, fmt.Errorf("unsupported regex option %q", o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

// ── $unwind / $sort / $limit / $skip ────────────────────────────────────────

func parseUnwind(i int, v any) (Stage, error) {
	switch x := v.(type) {
	case string:
		path, err := parseRefPath(i, "$unwind", x)
		if err != nil {
			return nil, err
		}
		return &Unwind{Path: path}, nil
	case *document.Document:
		u := &Unwind{}
		for _, f := range x.Fields() {
			switch f.Key {
			case "path":
				s, ok := f.Value.(string)
				if !ok {
					return nil, newDefinitionErrorf(i, "$unwind", "path must be a string")
				}
				path, err := parseRefPath(i, "$unwind", s)
				if err != nil {
					return nil, err
				}
				u.Path = path
			case "includeArrayIndex":
				s, ok := f.Value.(string)
				if !ok || !document.FieldPath(s).Valid() {
					return nil, newDefinitionErrorf(i, "$unwind", "includeArrayIndex must be a field name")
				}
				u.IncludeArrayIndex = document.FieldPath(s)
			case "preserveNullAndEmptyArrays":
				b, ok := f.Value.(bool)
				if !ok {
					return nil, newDefinitionErrorf(i, "$unwind", "preserveNullAndEmptyArrays must be a boolean")
				}
				u.PreserveNullAndEmptyArrays = b
			default:
				return nil, newDefinitionErrorf(i, "$unwind", "unknown option %q", f.Key)
			}
		}
		if u.Path == "" {
			return nil, newDefinitionErrorf(i, "$unwind", "path is required")
		}
		return u, nil
	default:
		return nil, newDefinitionErrorf(i, "$unwind", "argument must be a path string or an object")
	}
}

// parseRefPath parses a "$a.b" field reference.
func parseRefPath(i int, op, s string) (document.FieldPath, error) {
	if !strings.HasPrefix(s, "$") || strings.HasPrefix(s, "$$") {
		return "", newDefinitionErrorf(i, op, "field path %q must start with a single '$'", s)
	}
	path := document.FieldPath(s[1:])
	if !path.Valid() {
		return "", newDefinitionErrorf(i, op, "invalid field path %q", s)
	}
	return path, nil
}

func parseSort(i int, v any) (Stage, error) {
	d, ok := v.(*document.Document)
	if !ok || d.Len() == 0 {
		return nil, newDefinitionErrorf(i, "$sort", "argument must be a non-empty object")
	}
	s := &Sort{}
	for _, f := range d.Fields() {
		path := document.FieldPath(f.Key)
		if !path.Valid() {
			return nil, newDefinitionErrorf(i, "$sort", "invalid field path %q", f.Key)
		}
		dir, ok := f.Value.(float64)
		if !ok || (dir != 1 && dir != -1) {
			return nil, newDefinitionErrorf(i, "$sort", "direction for %q must be 1 or -1", f.Key)
		}
		s.Keys = append(s.Keys, SortKey{Path: path, Desc: dir < 0})
	}
	return s, nil
}

func parseCount(i int, op string, v any, minimum int64) (int64, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < float64(minimum) || f > math.MaxInt64/2 {
		return 0, newDefinitionErrorf(i, op, "argument must be an integer >= %d", minimum)
	}
	return int64(f), nil
}

// ── $group ──────────────────────────────────────────────────────────────────

func parseGroup(i int, v any) (Stage, error) {
	d, ok := v.(*document.Document)
	if !ok {
		return nil, newDefinitionErrorf(i, "$group", "argument must be an object")
	}
	keyVal, ok := d.Get(document.IDField)
	if !ok {
		return nil, newDefinitionErrorf(i, "$group", "an _id key expression is required")
	}
	key, err := parseExpr(i, "$group", keyVal)
	if err != nil {
		return nil, err
	}
	g := &Group{Key: key}
	for _, f := range d.Fields() {
		if f.Key == document.IDField {
			continue
		}
		if strings.HasPrefix(f.Key, "$") || strings.Contains(f.Key, ".") {
			return nil, newDefinitionErrorf(i, "$group", "invalid output field name %q", f.Key)
		}
		acc, err := parseAccumulator(i, f.Key, f.Value)
		if err != nil {
			return nil, err
		}
		g.Accumulators = append(g.Accumulators, acc)
	}
	return g, nil
}

func parseAccumulator(i int, name string, v any) (Accumulator, error) {
	spec, ok := v.(*document.Document)
	if !ok || spec.Len() != 1 {
		return Accumulator{}, newDefinitionErrorf(i, "$group", "field %q must be an object with exactly one accumulator", name)
	}
	f := spec.Fields()[0]
	acc := Accumulator{Name: name}
	switch f.Key {
	case "$sum":
		acc.Op = AccSum
	case "$avg":
		acc.Op = AccAvg
	case "$min":
		acc.Op = AccMin
	case "$max":
		acc.Op = AccMax
	case "$push":
		acc.Op = AccPush
	case "$addToSet":
		acc.Op = AccAddToSet
	case "$first":
		acc.Op = AccFirst
	case "$last":
		acc.Op = AccLast
	case "$count":
		arg, ok := f.Value.(*document.Document)
		if !ok || arg.Len() != 0 {
			return Accumulator{}, newDefinitionErrorf(i, "$count", "accumulator takes an empty object")
		}
		acc.Op = AccCount
		return acc, nil
	default:
		err := newDefinitionErrorf(i, f.Key, "unknown accumulator for field %q", name)
		err.Suggestion = SuggestFrom(f.Key, accumulatorNames, 2)
		return Accumulator{}, err
	}
	arg, err := parseExpr(i, f.Key, f.Value)
	if err != nil {
		return Accumulator{}, err
	}
	acc.Arg = arg
	return acc, nil
}

// parseExpr parses a value expression: "$path", {"$literal": v}, an object
// of expressions, or any other literal.
func parseExpr(i int, op string, v any) (Expr, error) {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "$") {
			path, err := parseRefPath(i, op, x)
			if err != nil {
				return nil, err
			}
			return &FieldRef{Path: path}, nil
		}
		return &Literal{Value: x}, nil
	case *document.Document:
		if x.Len() == 1 && x.Keys()[0] == "$literal" {
			lit, _ := x.Get("$literal")
			return &Literal{Value: lit}, nil
		}
		obj := &ObjectExpr{}
		for _, f := range x.Fields() {
			if strings.HasPrefix(f.Key, "$") {
				return nil, newDefinitionErrorf(i, f.Key, "unsupported expression operator")
			}
			sub, err := parseExpr(i, op, f.Value)
			if err != nil {
				return nil, err
			}
			obj.Fields = append(obj.Fields, NamedExpr{Name: f.Key, Expr: sub})
		}
		return obj, nil
	default:
		return &Literal{Value: v}, nil
	}
}

// ── $project / $addFields ───────────────────────────────────────────────────

func parseProject(i int, v any) (Stage, error) {
	d, ok := v.(*document.Document)
	if !ok || d.Len() == 0 {
		return nil, newDefinitionErrorf(i, "$project", "argument must be a non-empty object")
	}
	p := &Project{}
	var included, excluded int
	for _, f := range d.Fields() {
		path := document.FieldPath(f.Key)
		if !path.Valid() {
			return nil, newDefinitionErrorf(i, "$project", "invalid field path %q", f.Key)
		}
		flag, isFlag := projectionFlag(f.Value)
		if f.Key == document.IDField && isFlag {
			p.ExcludeID = !flag
			continue
		}
		switch {
		case isFlag && flag:
			included++
			p.Fields = append(p.Fields, ProjectField{Path: path})
		case isFlag:
			excluded++
			p.Excluded = append(p.Excluded, path)
		default:
			expr, err := parseExpr(i, "$project", f.Value)
			if err != nil {
				return nil, err
			}
			if f.Key != document.IDField {
				included++
			}
			p.Fields = append(p.Fields, ProjectField{Path: path, Expr: expr})
		}
	}
	if included > 0 && excluded > 0 {
		return nil, newDefinitionErrorf(i, "$project", "cannot mix inclusion and exclusion of fields")
	}
	if excluded > 0 || (len(p.Fields) == 0 && p.ExcludeID) {
		p.Mode = ProjectExclude
	}
	if err := checkCollisions(i, "$project", p.Fields); err != nil {
		return nil, err
	}
	return p, nil
}

// projectionFlag interprets 1/0/true/false projection values.
func projectionFlag(v any) (include bool, ok bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	default:
		return false, false
	}
}

func parseAddFields(i int, op string, v any) (Stage, error) {
	d, ok := v.(*document.Document)
	if !ok || d.Len() == 0 {
		return nil, newDefinitionErrorf(i, op, "argument must be a non-empty object")
	}
	a := &AddFields{}
	for _, f := range d.Fields() {
		path := document.FieldPath(f.Key)
		if !path.Valid() {
			return nil, newDefinitionErrorf(i, op, "invalid field path %q", f.Key)
		}
		expr, err := parseExpr(i, op, f.Value)
		if err != nil {
			return nil, err
		}
		a.Fields = append(a.Fields, ProjectField{Path: path, Expr: expr})
	}
	if err := checkCollisions(i, op, a.Fields); err != nil {
		return nil, err
	}
	return a, nil
}

func checkCollisions(i int, op string, fields []ProjectField) error {
	for a := range fields {
		for b := range fields {
			if a == b {
				continue
			}
			pa, pb := string(fields[a].Path), string(fields[b].Path)
			if pa == pb || strings.HasPrefix(pb, pa+".") {
				return newDefinitionErrorf(i, op, "path collision between %q and %q", pa, pb)
			}
		}
	}
	return nil
}

// ── $lookup ─────────────────────────────────────────────────────────────────

func parseLookup(i int, v any) (Stage, error) {
	d, ok := v.(*document.Document)
	if !ok {
		return nil, newDefinitionErrorf(i, "$lookup", "argument must be an object")
	}
	l := &Lookup{}
	for _, f := range d.Fields() {
		switch f.Key {
		case "from":
			s, ok := f.Value.(string)
			if !ok || !ValidCollectionName(s) {
				return nil, newDefinitionErrorf(i, "$lookup", "from must be a collection name")
			}
			l.From = s
		case "localField", "foreignField", "as":
			s, ok := f.Value.(string)
			if !ok || !document.FieldPath(s).Valid() {
				return nil, newDefinitionErrorf(i, "$lookup", "%s must be a field path", f.Key)
			}
			switch f.Key {
			case "localField":
				l.LocalField = document.FieldPath(s)
			case "foreignField":
				l.ForeignField = document.FieldPath(s)
			default:
				l.As = document.FieldPath(s)
			}
		case "pipeline":
			arr, ok := f.Value.([]any)
			if !ok {
				return nil, newDefinitionErrorf(i, "$lookup", "pipeline must be an array")
			}
			sub, err := FromValues(arr)
			if err != nil {
				return nil, newDefinitionErrorf(i, "$lookup", "sub-pipeline: %v", err)
			}
			for _, st := range sub {
				if _, nested := st.(*Lookup); nested {
					return nil, newDefinitionErrorf(i, "$lookup", "nested $lookup in sub-pipeline is not supported")
				}
			}
			l.Pipeline = sub
		default:
			err := newDefinitionErrorf(i, "$lookup", "unknown option %q", f.Key)
			err.Suggestion = SuggestFrom(f.Key, []string{"from", "localField", "foreignField", "as", "pipeline"}, 3)
			return nil, err
		}
	}
	switch {
	case l.From == "":
		return nil, newDefinitionErrorf(i, "$lookup", "from is required")
	case l.As == "":
		return nil, newDefinitionErrorf(i, "$lookup", "as is required")
	case (l.LocalField == "") != (l.ForeignField == ""):
		return nil, newDefinitionErrorf(i, "$lookup", "localField and foreignField must be given together")
	case l.LocalField == "" && l.Pipeline == nil:
		return nil, newDefinitionErrorf(i, "$lookup", "either localField/foreignField or pipeline is required")
	}
	return l, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	default:
		return true
	}
}
