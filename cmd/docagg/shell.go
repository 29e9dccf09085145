package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/repl/autocomplete"
	"github.com/matthewbaird/docagg/internal/repl/executor"
	"github.com/matthewbaird/docagg/internal/repl/meta"
	"github.com/matthewbaird/docagg/internal/repl/session"
)

var shellCollection string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive aggregation console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sess := session.NewSession()
		if shellCollection != "" {
			sess.Use(shellCollection)
		}
		metaHandler := meta.New(a.store, a.router.Override())
		exec := executor.New(a.router, metaHandler)
		ac := autocomplete.New(a.store)

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)
		// liner reports pos in runes.
		line.SetWordCompleter(func(text string, pos int) (string, []string, string) {
			runes := []rune(text)
			prefix, tail := string(runes[:pos]), string(runes[pos:])
			start := autocomplete.WordStart(prefix)
			var out []string
			for _, item := range ac.Complete(cmd.Context(), prefix, len(prefix)) {
				out = append(out, item.Label)
			}
			return prefix[:start], out, tail
		})

		histPath := historyPath()
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(histPath); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()

		stdout := cmd.OutOrStdout()
		fmt.Fprintln(stdout, headColor("docagg console")+dimColor(" (:help for commands, Ctrl-D to exit)"))
		for {
			prompt := "docagg> "
			if c := sess.Current(); c != "" {
				prompt = c + "> "
			}
			input, err := line.Prompt(prompt)
			if err != nil {
				if errors.Is(err, liner.ErrPromptAborted) {
					continue
				}
				if errors.Is(err, io.EOF) {
					fmt.Fprintln(stdout)
					return nil
				}
				return err
			}
			input = strings.TrimSpace(input)
			if input == "" {
				continue
			}
			if input == ":quit" || input == ":exit" {
				return nil
			}
			line.AppendHistory(input)
			runShellLine(cmd.Context(), stdout, exec, sess, input)
		}
	},
}

func init() {
	shellCmd.Flags().StringVarP(&shellCollection, "collection", "c", "", "initial collection")
}

func runShellLine(ctx context.Context, w io.Writer, exec *executor.Executor, sess *session.Session, input string) {
	out, err := exec.Execute(ctx, sess, input)
	if err != nil {
		fmt.Fprintln(w, errorColor("error:"), err)
		return
	}
	switch {
	case out.Meta != nil:
		if out.Meta.Clear {
			fmt.Fprint(w, "\033[H\033[2J")
		}
		if out.Meta.Output != "" {
			fmt.Fprintln(w, out.Meta.Output)
		}
	case out.Explanation != nil:
		printExplanation(w, out.Explanation)
	case out.Result != nil:
		if err := printDocuments(w, out.Result.Documents, false); err != nil {
			fmt.Fprintln(w, errorColor("error:"), err)
			return
		}
		printSummary(w, out.Result)
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docagg_history"
	}
	return filepath.Join(home, ".docagg_history")
}
