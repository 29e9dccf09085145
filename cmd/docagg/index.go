package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/catalog"
	"github.com/matthewbaird/docagg/internal/document"
)

var indexCmd = &cobra.Command{
	Use:   "index <collection> [field...]",
	Short: "Create expression indexes on field paths, or list indexed fields",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		collection := args[0]
		for _, field := range args[1:] {
			name, err := a.store.CreateIndex(cmd.Context(), collection, document.FieldPath(field))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "created %s\n", name)
		}

		set, err := catalog.NewReader(a.store).Fetch(cmd.Context(), collection)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range set.Paths() {
			fmt.Fprintf(out, "%-30s %s\n", p, dimColor(set.IndexName(p)))
		}
		return nil
	},
}
