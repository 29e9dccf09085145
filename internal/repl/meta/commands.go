// Package meta handles console meta-commands (:help, :use, :fallback, ...).
package meta

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/matthewbaird/docagg/internal/catalog"
	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/repl/schema"
	"github.com/matthewbaird/docagg/internal/repl/session"
	"github.com/matthewbaird/docagg/internal/router"
	"github.com/matthewbaird/docagg/internal/store"
)

// Commands lists every meta-command name.
var Commands = []string{"help", "clear", "env", "history", "use", "collections", "indexes", "fields", "fallback"}

// Catalog is the read side of the store the meta-commands need.
type Catalog interface {
	Collections(ctx context.Context) ([]string, error)
	IndexDefinitions(ctx context.Context, collection string) ([]store.IndexDef, error)
	Load(ctx context.Context, collection string) ([]*document.Document, error)
}

// Handler dispatches meta-commands.
type Handler struct {
	catalog  Catalog
	schema   *schema.Registry
	override *router.Override
	// OnOverride is called after :fallback changes the override.
	OnOverride func(forced bool)
}

// New creates a meta-command handler.
func New(cat Catalog, override *router.Override) *Handler {
	return &Handler{catalog: cat, schema: schema.NewRegistry(cat, 0), override: override}
}

// Result is the output of a meta-command execution.
type Result struct {
	Output string `json:"output"`
	Clear  bool   `json:"clear,omitempty"` // Signal frontend to clear screen
}

// Execute runs a meta-command and returns the result.
func (h *Handler) Execute(ctx context.Context, sess *session.Session, command string, args []string) (*Result, error) {
	switch command {
	case "help":
		return h.help(args)
	case "clear":
		return &Result{Clear: true}, nil
	case "env":
		return h.env(sess)
	case "history":
		return h.history(sess)
	case "use":
		return h.use(ctx, sess, args)
	case "collections":
		return h.collections(ctx)
	case "indexes":
		return h.indexes(ctx, sess, args)
	case "fields":
		return h.fields(ctx, sess, args)
	case "fallback":
		return h.fallback(args)
	default:
		msg := fmt.Sprintf("unknown meta-command ':%s'. Type :help for available commands", command)
		if s := pipeline.SuggestFrom(command, Commands, 2); s != "" {
			msg += " (" + s + ")"
		}
		return nil, fmt.Errorf("%s", msg)
	}
}

const helpText = `docagg aggregation console

Statements:
  aggregate [collection] <pipeline>  Run a pipeline
  explain [collection] <pipeline>    Show cost, SQL plan or fallback reason
  <pipeline>                         Aggregate on the current collection

A pipeline is a JSON array of stages:
  $match $unwind $sort $limit $skip $group $project $lookup $addFields $set $count

Meta-commands:
  :help [topic]          Show help (topics: match, group, project, lookup, unwind)
  :clear                 Clear the screen
  :env                   Show session info
  :history               Show statement history
  :use <collection>      Select the current collection
  :collections           List collections
  :indexes [collection]  List indexed fields
  :fields [collection]   List field paths seen in the first documents
  :fallback [on|off]     Show or set the fallback override

Examples:
  :use products
  [{"$match": {"category": "Cat5"}}, {"$limit": 10}]
  explain [{"$unwind": "$tags"}, {"$sort": {"price": -1}}]`

func (h *Handler) help(args []string) (*Result, error) {
	if len(args) == 0 {
		return &Result{Output: helpText}, nil
	}
	switch strings.TrimPrefix(strings.ToLower(args[0]), "$") {
	case "match":
		return &Result{Output: "{\"$match\": {<field>: <value> | {<op>: <value>}, ...}}\n\nOperators: " +
			strings.Join(pipeline.QueryOperators(), " ") +
			"\n$regex has no SQL form; pipelines using it run in the interpreter."}, nil
	case "group":
		return &Result{Output: "{\"$group\": {\"_id\": <expr>, <name>: {<accumulator>: <expr>}, ...}}\n\nAccumulators: " +
			strings.Join(pipeline.AccumulatorNames(), " ")}, nil
	case "project":
		return &Result{Output: "{\"$project\": {<field>: 1 | 0 | \"$path\" | {\"$literal\": v}, ...}}\n\nInclusion and exclusion cannot be mixed, except for _id."}, nil
	case "lookup":
		return &Result{Output: "{\"$lookup\": {\"from\": <collection>, \"localField\": <path>, \"foreignField\": <path>, \"as\": <field>}}\n\nAn optional \"pipeline\" runs on the matches; that form runs in the interpreter."}, nil
	case "unwind":
		return &Result{Output: "{\"$unwind\": \"$path\"}\n{\"$unwind\": {\"path\": \"$path\", \"includeArrayIndex\": <field>, \"preserveNullAndEmptyArrays\": true}}"}, nil
	default:
		return &Result{Output: fmt.Sprintf("No help available for '%s'", args[0])}, nil
	}
}

func (h *Handler) env(sess *session.Session) (*Result, error) {
	current := sess.Current()
	if current == "" {
		current = "(none)"
	}
	out := fmt.Sprintf("Session: %s\nCollection: %s\nFallback forced: %t\nCreated: %s\nHistory entries: %d",
		sess.ID, current, h.override.Forced(),
		sess.CreatedAt.Format("2006-01-02 15:04:05"),
		len(sess.Entries()))
	return &Result{Output: out}, nil
}

func (h *Handler) history(sess *session.Session) (*Result, error) {
	entries := sess.Entries()
	if len(entries) == 0 {
		return &Result{Output: "(no history)"}, nil
	}

	var b strings.Builder
	for i, entry := range entries {
		fmt.Fprintf(&b, "%3d  %s\n", i+1, entry)
	}
	return &Result{Output: b.String()}, nil
}

func (h *Handler) use(ctx context.Context, sess *session.Session, args []string) (*Result, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: :use <collection>")
	}
	name := args[0]
	if !pipeline.ValidCollectionName(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	sess.Use(name)
	names, err := h.catalog.Collections(ctx)
	if err != nil {
		return nil, err
	}
	i := sort.SearchStrings(names, name)
	if i < len(names) && names[i] == name {
		return &Result{Output: fmt.Sprintf("using %s", name)}, nil
	}
	return &Result{Output: fmt.Sprintf("using %s (collection does not exist yet; pipelines return no documents)", name)}, nil
}

func (h *Handler) collections(ctx context.Context) (*Result, error) {
	names, err := h.catalog.Collections(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return &Result{Output: "(no collections)"}, nil
	}
	return &Result{Output: fmt.Sprintf("Collections (%d):\n  %s", len(names), strings.Join(names, "\n  "))}, nil
}

func (h *Handler) indexes(ctx context.Context, sess *session.Session, args []string) (*Result, error) {
	name := sess.Current()
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return nil, fmt.Errorf("usage: :indexes <collection>")
	}
	defs, err := h.catalog.IndexDefinitions(ctx, name)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Indexed fields of %s:\n", name)
	fmt.Fprintf(&b, "  %-30s %s\n", "_id", "primary key")
	for _, def := range defs {
		path, ok := catalog.IndexedPath(def.SQL)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-30s %s\n", path, def.Name)
	}
	return &Result{Output: b.String()}, nil
}

func (h *Handler) fields(ctx context.Context, sess *session.Session, args []string) (*Result, error) {
	name := sess.Current()
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return nil, fmt.Errorf("usage: :fields <collection>")
	}
	fields, err := h.schema.Fields(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return &Result{Output: fmt.Sprintf("%s has no documents", name)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fields of %s:\n", name)
	for _, f := range fields {
		fmt.Fprintf(&b, "  %-30s %-20s %d\n", f.Path, strings.Join(f.Types, "|"), f.Count)
	}
	return &Result{Output: b.String()}, nil
}

func (h *Handler) fallback(args []string) (*Result, error) {
	if len(args) == 0 {
		return &Result{Output: fmt.Sprintf("fallback forced: %t", h.override.Forced())}, nil
	}
	var force bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "1":
		force = true
	case "off", "false", "0":
		force = false
	default:
		return nil, fmt.Errorf("usage: :fallback [on|off]")
	}
	h.override.Set(force)
	if h.OnOverride != nil {
		h.OnOverride(force)
	}
	return &Result{Output: fmt.Sprintf("fallback forced: %t", force)}, nil
}
