// Package executor runs parsed console statements through the router and
// the meta-command handler.
package executor

import (
	"context"
	"fmt"

	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/repl/command"
	"github.com/matthewbaird/docagg/internal/repl/meta"
	"github.com/matthewbaird/docagg/internal/repl/session"
	"github.com/matthewbaird/docagg/internal/router"
)

// Runner executes and explains pipelines. *router.Router implements it.
type Runner interface {
	Run(ctx context.Context, collection string, p pipeline.Pipeline) (*router.Result, error)
	Explain(ctx context.Context, collection string, p pipeline.Pipeline) (*router.Explanation, error)
}

// Output holds the result of one statement. Exactly one of Meta, Result
// and Explanation is set.
type Output struct {
	Statement   *command.Statement
	Meta        *meta.Result
	Result      *router.Result
	Explanation *router.Explanation
}

// Executor runs console statements.
type Executor struct {
	runner Runner
	meta   *meta.Handler
}

// New creates an executor.
func New(runner Runner, metaHandler *meta.Handler) *Executor {
	return &Executor{runner: runner, meta: metaHandler}
}

// Execute parses input against the session and runs it. Statements that
// parse are recorded in the session history.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, input string) (*Output, error) {
	stmt, err := command.Parse(input, sess.Current())
	if err != nil {
		return nil, err
	}
	sess.AddHistory(input)

	out := &Output{Statement: stmt}
	switch stmt.Verb {
	case command.VerbMeta:
		out.Meta, err = e.meta.Execute(ctx, sess, stmt.Command, stmt.Args)
	case command.VerbAggregate:
		out.Result, err = e.runner.Run(ctx, stmt.Collection, stmt.Pipeline)
	case command.VerbExplain:
		out.Explanation, err = e.runner.Explain(ctx, stmt.Collection, stmt.Pipeline)
	default:
		err = fmt.Errorf("unsupported statement: %s", stmt.Verb)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
