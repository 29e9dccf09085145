package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/docagg/internal/pipeline"
)

var (
	pipelineFile string
	prettyOutput bool
	quietSummary bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <collection> [pipeline-json]",
	Short: "Run a pipeline and print the resulting documents",
	Long: `Run a pipeline and print one JSON document per line.

The pipeline is a JSON array of stages, given as an argument, read from a
file with --file, or read from stdin when neither is given.`,
	Args: cobra.RangeArgs(1, 2),
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

		res, err := a.router.Run(cmd.Context(), args[0], p)
		if err != nil {
			return err
		}
		if err := printDocuments(cmd.OutOrStdout(), res.Documents, prettyOutput); err != nil {
			return err
		}
		if !quietSummary {
			printSummary(cmd.ErrOrStderr(), res)
		}
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain <collection> [pipeline-json]",
	Short: "Show the cost estimate and SQL plan of a pipeline without running it",
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

		ex, err := a.router.Explain(cmd.Context(), args[0], p)
		if err != nil {
			return err
		}
		printExplanation(cmd.OutOrStdout(), ex)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{aggregateCmd, explainCmd} {
		c.Flags().StringVarP(&pipelineFile, "file", "f", "", "read the pipeline from a file")
	}
	aggregateCmd.Flags().BoolVar(&prettyOutput, "pretty", false, "indent output documents")
	aggregateCmd.Flags().BoolVarP(&quietSummary, "quiet", "q", false, "do not print the execution summary")
}

func readPipeline(cmd *cobra.Command, args []string) (pipeline.Pipeline, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case len(args) == 2 && pipelineFile != "":
		return nil, errors.New("give the pipeline as an argument or with --file, not both")
	case len(args) == 2:
		data = []byte(args[1])
	case pipelineFile != "":
		data, err = os.ReadFile(pipelineFile)
	default:
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, err
	}
	return pipeline.Parse(data)
}
