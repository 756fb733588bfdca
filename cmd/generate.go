package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/pipeline"
)

var generateShowQuery bool

var generateCmd = &cobra.Command{
	Use:   "generate <run-id>",
	Short: "Confirm the build query and generate the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.EnsureClarificationsComplete(ctx, runID); err != nil {
			if eris.Is(err, pipeline.ErrQuestionsPending) {
				return eris.Wrapf(err, "answer or skip the remaining questions with: rfp ask %s", runID)
			}
			return err
		}

		run, err := env.Pipeline.ConfirmBuildQuery(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "confirm build query")
		}
		if generateShowQuery {
			fmt.Println(run.BuildQuery.QueryText)
			fmt.Println()
		}

		run, err = env.Pipeline.Generate(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "generate response")
		}

		result := run.Response
		zap.L().Info("generation finished",
			zap.String("run_id", runID),
			zap.String("mode", result.Mode),
			zap.Int("responses", len(result.Responses)),
			zap.Int("failed", result.FailedCount),
		)

		if result.FailedCount > 0 {
			fmt.Printf("Completed with %d of %d items failed (mode: %s).\n",
				result.FailedCount, len(result.Responses), result.Mode)
		} else {
			fmt.Printf("Completed: %d items generated (mode: %s).\n", len(result.Responses), result.Mode)
		}
		fmt.Printf("Export with: rfp export %s --format md -o proposal.md\n", runID)
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVar(&generateShowQuery, "show-query", false, "print the confirmed build query before generating")
	rootCmd.AddCommand(generateCmd)
}
