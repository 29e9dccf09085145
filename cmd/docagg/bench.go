package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/bench"
)

var (
	benchWorkers    int
	benchIterations int
	benchJSON       bool
)

var benchCmd = &cobra.Command{
	Use:   "bench <collection> [pipeline-json]",
	Short: "Run a pipeline on both paths, compare results and latency",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readPipeline(cmd, args)
		if err != nil {
			return err
		}
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := bench.Config{
			Workers:    a.cfg.Bench.Workers,
			Iterations: a.cfg.Bench.Iterations,
			Logger:     a.logger,
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = benchWorkers
		}
		if cmd.Flags().Changed("iterations") {
			cfg.Iterations = benchIterations
		}

		rep, err := bench.New(a.router, cfg).Run(cmd.Context(), args[0], p)
		if err != nil {
			return err
		}
		if benchJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		printBenchReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVarP(&pipelineFile, "file", "f", "", "read the pipeline from a file")
	benchCmd.Flags().IntVarP(&benchWorkers, "workers", "w", 4, "concurrent runs (overrides config)")
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 50, "runs per path (overrides config)")
	benchCmd.Flags().BoolVar(&benchJSON, "json", false, "print the report as JSON")
}
