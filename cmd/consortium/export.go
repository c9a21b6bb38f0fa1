package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/consortium/internal/evaluation"
)

func newExportCmd() *cobra.Command {
	var (
		configPath    string
		output        string
		since         string
		model         string
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export evaluations as JSON Lines training data",
		Long: `Writes one JSON object per stored evaluation, oldest first.
Each line carries the prompt, the chosen model and the arbiter's analysis.
Use --output to write to a file instead of stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceT, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			q := evaluation.ExportQuery{Since: sinceT, ModelFilter: model}
			if cmd.Flags().Changed("min-confidence") {
				q.MinConfidence = &minConfidence
			}

			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			n, err := a.evals.ExportTrainingData(cmd.Context(), w, q)
			if err != nil {
				return err
			}
			if w != cmd.OutOrStdout() {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, output)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&since, "since", "", "only evaluations at or after this time")
	cmd.Flags().StringVar(&model, "model", "", "only evaluations whose chosen model contains this text")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "only evaluations with at least this confidence")
	return cmd
}
