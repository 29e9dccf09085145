package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/matthewbaird/docagg/internal/bench"
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/router"
)

var (
	errorColor    = color.New(color.FgRed, color.Bold).SprintFunc()
	sqlColor      = color.New(color.FgGreen).SprintFunc()
	fallbackColor = color.New(color.FgYellow).SprintFunc()
	dimColor      = color.New(color.Faint).SprintFunc()
	headColor     = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func pathLabel(p router.Path, reason string) string {
	if p == router.PathSQL {
		return sqlColor("sql")
	}
	if reason == "" {
		return fallbackColor("fallback")
	}
	return fallbackColor("fallback (" + reason + ")")
}

// printDocuments writes one JSON document per line.
func printDocuments(w io.Writer, docs []*document.Document, pretty bool) error {
	for _, d := range docs {
		b, err := document.Marshal(d)
		if err != nil {
			return err
		}
		if pretty {
			var buf bytes.Buffer
			if err := json.Indent(&buf, b, "", "  "); err != nil {
				return err
			}
			b = buf.Bytes()
		}
		if _, err := fmt.Fprintln(w, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, res *router.Result) {
	cost := ""
	if res.Cost != nil {
		cost = fmt.Sprintf(" cost=%.2f", res.Cost.Total)
	}
	fmt.Fprintln(w, dimColor(fmt.Sprintf("%d document(s) via ", len(res.Documents)))+
		pathLabel(res.Path, res.Reason)+dimColor(fmt.Sprintf("%s in %s", cost, res.Duration)))
}

func printExplanation(w io.Writer, ex *router.Explanation) {
	fmt.Fprintf(w, "%s %s\n", headColor("collection:"), ex.Collection)
	fmt.Fprintf(w, "%s %s\n", headColor("path:"), pathLabel(ex.Path, forcedReason(ex)))
	if ex.CatalogError != "" {
		fmt.Fprintf(w, "%s %s\n", headColor("catalog error:"), errorColor(ex.CatalogError))
	}
	fmt.Fprintf(w, "%s %s\n", headColor("indexed fields:"), strings.Join(ex.IndexedFields, ", "))
	fmt.Fprintf(w, "%s %.2f\n", headColor("cost:"), ex.Cost.Total)
	for _, st := range ex.Cost.Stages {
		fields := make([]string, 0, len(st.Fields))
		for _, f := range st.Fields {
			fields = append(fields, fmt.Sprintf("%s×%.1f", f.Path, f.Multiplier))
		}
		fmt.Fprintf(w, "  %2d %-10s %6.2f  %s\n", st.Stage, st.Kind, st.Cost, dimColor(strings.Join(fields, " ")))
	}
	if ex.Unsupported != nil {
		where := "pipeline"
		if ex.Unsupported.Stage >= 0 {
			where = fmt.Sprintf("stage %d (%s)", ex.Unsupported.Stage, ex.Unsupported.Kind)
		}
		fmt.Fprintf(w, "%s %s: %s\n", headColor("no SQL plan:"), where, ex.Unsupported.Reason)
	}
	if ex.Statement != "" {
		fmt.Fprintf(w, "%s (%d params)\n%s\n", headColor("statement:"), ex.Params, ex.Statement)
	}
}

func forcedReason(ex *router.Explanation) string {
	switch {
	case ex.Forced:
		return router.ReasonForced
	case ex.Path == router.PathFallback && ex.CatalogError != "":
		return router.ReasonCatalog
	case ex.Path == router.PathFallback:
		return router.ReasonUnsupported
	}
	return ""
}

func printBenchReport(w io.Writer, rep *bench.Report) {
	fmt.Fprintf(w, "%s %s  iterations=%d workers=%d\n", headColor("bench"), rep.Collection, rep.Iterations, rep.Workers)
	for _, st := range []bench.PathStats{rep.SQL, rep.Fallback} {
		fmt.Fprintf(w, "  %-8s ran %-28s docs=%-6d min=%-10s p50=%-10s p95=%-10s max=%s\n",
			st.Requested, pathLabel(router.Path(st.Path), st.Reason), st.Documents, st.Min, st.P50, st.P95, st.Max)
	}
	if rep.Speedup > 0 {
		fmt.Fprintf(w, "  speedup  %.2fx\n", rep.Speedup)
	}
	if rep.Equivalent {
		fmt.Fprintln(w, "  "+sqlColor("results equivalent"))
	} else {
		fmt.Fprintln(w, "  "+errorColor("results differ: ")+rep.Mismatch)
	}
}
