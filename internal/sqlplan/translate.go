package sqlplan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/store"
)

// errUnsupported builds the reason for an untranslatable stage.
func errUnsupported(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

type fragment struct {
	ctx  *Context
	frag Fragment
}

// from is the CTE the next emitted body reads.
func (f *fragment) from() string { return f.ctx.source() }

func (f *fragment) emit(body string) {
	f.frag.CTEs = append(f.frag.CTEs, body)
	f.ctx.next()
}

// Translate compiles one stage against the state left by earlier stages.
func Translate(st pipeline.Stage, ctx *Context) (Fragment, error) {
	f := &fragment{ctx: ctx}
	var err error
	switch s := st.(type) {
	case *pipeline.Match:
		err = f.match(s)
	case *pipeline.Unwind:
		err = f.unwind(s)
	case *pipeline.Sort:
		err = f.sort(s)
	case *pipeline.Limit:
		f.emit(fmt.Sprintf("SELECT _ord, data FROM %s ORDER BY _ord LIMIT %s", f.from(), ctx.bind(s.N)))
	case *pipeline.Skip:
		f.emit(fmt.Sprintf("SELECT _ord, data FROM %s ORDER BY _ord LIMIT -1 OFFSET %s", f.from(), ctx.bind(s.N)))
	case *pipeline.Group:
		err = f.group(s)
	case *pipeline.Project:
		err = f.project(s)
	case *pipeline.Lookup:
		err = f.lookup(s)
	case *pipeline.AddFields:
		err = f.addFields(s)
	case *pipeline.Count:
		f.emit(fmt.Sprintf("SELECT 1 AS _ord, json_object(%s, n) AS data FROM (SELECT COUNT(*) AS n FROM %s) WHERE n > 0",
			ctx.bind(s.Field), f.from()))
	default:
		err = errUnsupported("unknown stage %T", st)
	}
	if err != nil {
		return Fragment{}, err
	}
	return f.frag, nil
}

// path binds the JSON path of p.
func (f *fragment) path(p document.FieldPath) (string, error) {
	jp, ok := store.JSONPath(p)
	if !ok {
		return "", errUnsupported("field path %q has no JSON path form", p)
	}
	return f.ctx.bind(jp), nil
}

// settablePath binds a path that json_set / json_remove will write to.
// Index segments are rejected since writes through them only apply in SQL.
func (f *fragment) settablePath(p document.FieldPath) (string, error) {
	if p.HasIndexSegment() {
		return "", errUnsupported("cannot write to array index path %q", p)
	}
	return f.path(p)
}

// ── $match ──────────────────────────────────────────────────────────────────

func (f *fragment) match(s *pipeline.Match) error {
	cond, err := f.predicate("data", s.Predicate)
	if err != nil {
		return err
	}
	f.emit(fmt.Sprintf("SELECT _ord, data FROM %s WHERE %s", f.from(), cond))
	return nil
}

// ── $unwind ─────────────────────────────────────────────────────────────────

func (f *fragment) unwind(s *pipeline.Unwind) error {
	p, err := f.settablePath(s.Path)
	if err != nil {
		return err
	}
	idxSet := func(doc, idx string) string { return doc }
	if s.IncludeArrayIndex != "" {
		ip, err := f.settablePath(s.IncludeArrayIndex)
		if err != nil {
			return err
		}
		idxSet = func(doc, idx string) string { return fmt.Sprintf("json_set(%s, %s, %s)", doc, ip, idx) }
	}
	src := f.from()
	typ := fmt.Sprintf("json_type(p.data, %s)", p)

	branches := []string{
		// One row per element.
		fmt.Sprintf("SELECT p._ord AS _o1, je.key AS _o2, %s AS data FROM %s p, json_each(p.data, %s) je WHERE %s = 'array'",
			idxSet(fmt.Sprintf("json_set(p.data, %s, json(p.data -> je.fullkey))", p), "je.key"), src, p, typ),
		// Non-array values pass through unchanged.
		fmt.Sprintf("SELECT p._ord, 0, %s FROM %s p WHERE %s NOT IN ('array', 'null')",
			idxSet("p.data", "NULL"), src, typ),
	}
	if s.PreserveNullAndEmptyArrays {
		branches = append(branches, fmt.Sprintf(
			"SELECT p._ord, 0, %s FROM %s p WHERE %s IS NULL OR %s = 'null' OR (%s = 'array' AND json_array_length(p.data, %s) = 0)",
			idxSet(fmt.Sprintf("CASE WHEN %s = 'array' THEN json_remove(p.data, %s) ELSE p.data END", typ, p), "NULL"),
			src, typ, typ, typ, p))
	}
	f.emit(fmt.Sprintf("SELECT ROW_NUMBER() OVER (ORDER BY _o1, _o2) AS _ord, data FROM (%s)",
		strings.Join(branches, " UNION ALL ")))
	return nil
}

// ── $sort ───────────────────────────────────────────────────────────────────

// classExpr ranks a JSON type the way document.ClassOf does.
func classExpr(typ string) string {
	return fmt.Sprintf("CASE %s WHEN 'integer' THEN 1 WHEN 'real' THEN 1 WHEN 'text' THEN 2 "+
		"WHEN 'object' THEN 3 WHEN 'array' THEN 4 WHEN 'true' THEN 5 WHEN 'false' THEN 5 ELSE 0 END", typ)
}

func (f *fragment) sort(s *pipeline.Sort) error {
	keys := make([]string, 0, 2*len(s.Keys)+1)
	for _, k := range s.Keys {
		p, err := f.path(k.Path)
		if err != nil {
			return err
		}
		dir := ""
		if k.Desc {
			dir = " DESC"
		}
		typ := fmt.Sprintf("json_type(data, %s)", p)
		keys = append(keys,
			classExpr(typ)+dir,
			fmt.Sprintf("CASE WHEN %s IN ('object', 'array') THEN NULL ELSE json_extract(data, %s) END%s", typ, p, dir))
	}
	keys = append(keys, "_ord")
	f.emit(fmt.Sprintf("SELECT ROW_NUMBER() OVER (ORDER BY %s) AS _ord, data FROM %s",
		strings.Join(keys, ", "), f.from()))
	return nil
}

// ── $group ──────────────────────────────────────────────────────────────────

func (f *fragment) group(s *pipeline.Group) error {
	key, err := f.value("data", s.Key)
	if err != nil {
		return err
	}
	fields := []string{f.ctx.bind(document.IDField), "json(gk)"}
	for _, acc := range s.Accumulators {
		expr, err := f.accumulator(acc)
		if err != nil {
			return err
		}
		fields = append(fields, f.ctx.bind(acc.Name), expr)
	}
	f.emit(fmt.Sprintf(
		"SELECT ROW_NUMBER() OVER (ORDER BY MIN(_ord)) AS _ord, json_object(%s) AS data "+
			"FROM (SELECT _ord, data, COALESCE(%s, 'null') AS gk FROM %s) GROUP BY gk",
		strings.Join(fields, ", "), key, f.from()))
	return nil
}

func (f *fragment) accumulator(acc pipeline.Accumulator) (string, error) {
	if acc.Op == pipeline.AccCount {
		return "COUNT(*)", nil
	}
	if acc.Op == pipeline.AccPush {
		v, err := f.value("data", acc.Arg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("json('[' || COALESCE(group_concat(%s, ',' ORDER BY _ord), '') || ']')", v), nil
	}
	switch acc.Op {
	case pipeline.AccSum, pipeline.AccAvg, pipeline.AccMin, pipeline.AccMax:
	default:
		return "", errUnsupported("accumulator %s has no SQL form", acc.Op)
	}

	fn, _ := store.FoldFunc(acc.Op)
	switch arg := acc.Arg.(type) {
	case *pipeline.FieldRef:
		v, err := f.value("data", arg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("json(%s(%s ORDER BY _ord))", fn, v), nil
	case *pipeline.Literal:
		switch v := arg.Value.(type) {
		case float64:
			if acc.Op == pipeline.AccSum {
				return fmt.Sprintf("json(%s(%s ORDER BY _ord))", fn, f.ctx.bind(document.FormatNumber(v))), nil
			}
			return fmt.Sprintf("json(%s)", f.ctx.bind(document.FormatNumber(v))), nil
		case string:
			switch acc.Op {
			case pipeline.AccSum:
				return "0", nil
			case pipeline.AccAvg:
				return "NULL", nil
			default:
				return f.ctx.bind(v), nil
			}
		}
	}
	// Objects and non-numeric, non-string literals.
	if acc.Op == pipeline.AccSum {
		return "0", nil
	}
	return "NULL", nil
}

// value compiles an expression to SQL yielding JSON text, or NULL when a
// field reference is missing. doc is the column holding the document.
func (f *fragment) value(doc string, e pipeline.Expr) (string, error) {
	switch x := e.(type) {
	case *pipeline.FieldRef:
		p, err := f.path(x.Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s -> %s)", doc, p), nil
	case *pipeline.Literal:
		b, err := document.MarshalValue(x.Value)
		if err != nil {
			return "", errUnsupported("literal: %v", err)
		}
		return f.ctx.bind(string(b)), nil
	case *pipeline.ObjectExpr:
		parts := make([]string, 0, 2*len(x.Fields))
		for _, nf := range x.Fields {
			sub, err := f.value(doc, nf.Expr)
			if err != nil {
				return "", err
			}
			parts = append(parts, f.ctx.bind(nf.Name), fmt.Sprintf("json(COALESCE(%s, 'null'))", sub))
		}
		return fmt.Sprintf("json_object(%s)", strings.Join(parts, ", ")), nil
	default:
		return "", errUnsupported("expression %T", e)
	}
}

// ── $project / $addFields ───────────────────────────────────────────────────

func (f *fragment) project(s *pipeline.Project) error {
	if s.Mode == pipeline.ProjectExclude {
		paths := s.Excluded
		if s.ExcludeID {
			paths = append(append([]document.FieldPath(nil), paths...), document.IDField)
		}
		if len(paths) == 0 {
			f.emit(fmt.Sprintf("SELECT _ord, data FROM %s", f.from()))
			return nil
		}
		args := make([]string, 0, len(paths))
		for _, p := range paths {
			bp, err := f.settablePath(p)
			if err != nil {
				return err
			}
			args = append(args, bp)
		}
		f.emit(fmt.Sprintf("SELECT _ord, json_remove(data, %s) AS data FROM %s", strings.Join(args, ", "), f.from()))
		return nil
	}

	type outField struct {
		key  string
		expr pipeline.Expr
	}
	var out []outField
	var idExpr pipeline.Expr = &pipeline.FieldRef{Path: document.IDField}
	for _, pf := range s.Fields {
		if !pf.Path.IsTopLevel() {
			return errUnsupported("nested projection path %q", pf.Path)
		}
		expr := pf.Expr
		if expr == nil {
			expr = &pipeline.FieldRef{Path: pf.Path}
		}
		if pf.Path == document.IDField {
			idExpr = expr
			continue
		}
		out = append(out, outField{key: string(pf.Path), expr: expr})
	}
	if !s.ExcludeID {
		out = append([]outField{{key: document.IDField, expr: idExpr}}, out...)
	}

	// (_ord, data, out): data stays the input document, out accumulates.
	f.emit(fmt.Sprintf("SELECT _ord, data, '{}' AS out FROM %s", f.from()))
	for _, of := range out {
		v, err := f.value("data", of.expr)
		if err != nil {
			return err
		}
		p, err := f.settablePath(document.FieldPath(of.key))
		if err != nil {
			return err
		}
		f.emit(fmt.Sprintf("SELECT _ord, data, CASE WHEN %s IS NULL THEN out ELSE json_set(out, %s, json(%s)) END AS out FROM %s",
			v, p, v, f.from()))
	}
	f.emit(fmt.Sprintf("SELECT _ord, out AS data FROM %s", f.from()))
	return nil
}

func (f *fragment) addFields(s *pipeline.AddFields) error {
	// (_ord, orig, data): expressions read the input document.
	f.emit(fmt.Sprintf("SELECT _ord, data AS orig, data FROM %s", f.from()))
	for _, pf := range s.Fields {
		v, err := f.value("orig", pf.Expr)
		if err != nil {
			return err
		}
		p, err := f.settablePath(pf.Path)
		if err != nil {
			return err
		}
		f.emit(fmt.Sprintf("SELECT _ord, orig, CASE WHEN %s IS NULL THEN data ELSE json_set(data, %s, json(%s)) END AS data FROM %s",
			v, p, v, f.from()))
	}
	f.emit(fmt.Sprintf("SELECT _ord, data FROM %s", f.from()))
	return nil
}

// ── $lookup ─────────────────────────────────────────────────────────────────

var errNoForeign = errors.New("foreign collection does not exist")

func (f *fragment) lookup(s *pipeline.Lookup) error {
	if s.Pipeline != nil {
		return errUnsupported("$lookup with a sub-pipeline")
	}
	if !s.Equality() {
		return errUnsupported("$lookup without an equality condition")
	}
	if err := store.CheckName(s.From); err != nil {
		return err
	}
	if !f.ctx.foreign[s.From] {
		return fmt.Errorf("%w: %s", errNoForeign, s.From)
	}
	as, err := f.settablePath(s.As)
	if err != nil {
		return err
	}
	local, err := f.path(s.LocalField)
	if err != nil {
		return err
	}
	foreign, err := f.path(s.ForeignField)
	if err != nil {
		return err
	}
	join := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) lc, json_each(%s) fc WHERE %s)",
		candidates("p.data", local), candidates("f.data", foreign), sameValue("lc", "fc"))
	matches := fmt.Sprintf("(SELECT '[' || COALESCE(group_concat(f.data, ',' ORDER BY f.rowid), '') || ']' FROM %s f WHERE %s)",
		store.QuoteIdent(s.From), join)
	f.emit(fmt.Sprintf("SELECT p._ord, json_set(p.data, %s, json(%s)) AS data FROM %s p", as, matches, f.from()))
	return nil
}

// candidates is the JSON array of values a path is tested against: the
// elements of an array, otherwise the value itself (null when missing).
func candidates(doc, path string) string {
	return fmt.Sprintf("CASE WHEN json_type(%s, %s) = 'array' THEN json(%s -> %s) ELSE json_array(json(%s -> %s)) END",
		doc, path, doc, path, doc, path)
}

// sameValue compares two json_each rows by type class and value.
func sameValue(a, b string) string {
	return fmt.Sprintf("((%[1]s.type IN ('integer', 'real') AND %[2]s.type IN ('integer', 'real') AND %[1]s.atom = %[2]s.atom)"+
		" OR (%[1]s.type = 'text' AND %[2]s.type = 'text' AND %[1]s.atom = %[2]s.atom)"+
		" OR (%[1]s.type = %[2]s.type AND %[1]s.type IN ('true', 'false', 'null'))"+
		" OR (%[1]s.type = %[2]s.type AND %[1]s.type IN ('object', 'array') AND %[1]s.value = %[2]s.value))", a, b)
}
