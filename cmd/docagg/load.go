package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/document"
)

var loadBatch int

var loadCmd = &cobra.Command{
	Use:   "load <collection> [file]",
	Short: "Insert documents from a JSON array or newline-delimited JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 2 && args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		total := 0
		flush := func(batch []*document.Document) error {
			if len(batch) == 0 {
				return nil
			}
			stored, err := a.store.Insert(cmd.Context(), args[0], batch...)
			total += len(stored)
			return err
		}

		var batch []*document.Document
		err = readDocuments(in, func(d *document.Document) error {
			batch = append(batch, d)
			if len(batch) >= loadBatch {
				if err := flush(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
			return nil
		})
		if err == nil {
			err = flush(batch)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "loaded %d document(s) into %s\n", total, args[0])
		return nil
	},
}

func init() {
	loadCmd.Flags().IntVar(&loadBatch, "batch", 500, "documents per insert transaction")
}

// readDocuments streams top-level JSON values from r. Arrays are flattened
// one level; every element must be an object.
func readDocuments(r io.Reader, fn func(*document.Document) error) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	for n := 0; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("value %d: %w", n, err)
		}
		v, err := document.UnmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("value %d: %w", n, err)
		}
		items := []any{v}
		if arr, ok := v.([]any); ok {
			items = arr
		}
		for i, item := range items {
			d, ok := item.(*document.Document)
			if !ok {
				return fmt.Errorf("value %d element %d: expected an object, got %s", n, i, document.TypeName(item))
			}
			if err := fn(d); err != nil {
				return err
			}
		}
	}
}
