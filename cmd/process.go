package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/pkg/textract"
)

var processName string

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Process an RFP document through the analysis stages",
	Long:  "Extracts text from the document, runs extraction, scoping, requirements analysis, structure detection, and build query assembly, then leaves the run awaiting clarification and confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		extractor, err := textract.ForFile(path, cfg.Extract.PdfToTextPath)
		if err != nil {
			return err
		}
		rawText, err := extractor.ExtractText(ctx, path)
		if err != nil {
			return eris.Wrapf(err, "extract text from %s", path)
		}

		name := processName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}

		run, err := env.Store.CreateRun(ctx, name, rawText)
		if err != nil {
			return eris.Wrap(err, "create run")
		}
		zap.L().Info("run created",
			zap.String("run_id", run.ID),
			zap.String("name", name),
			zap.Int("raw_chars", len(rawText)),
		)

		run, err = env.Pipeline.Process(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "process run")
		}

		fmt.Printf("Run %s processed.\n", run.ID)
		fmt.Printf("  Language:               %s\n", run.Extraction.Language)
		fmt.Printf("  Solution requirements:  %d\n", len(run.Requirements.SolutionRequirements))
		fmt.Printf("  Structure requirements: %d\n", len(run.Requirements.ResponseStructureRequirements))
		if run.Structure != nil {
			fmt.Printf("  Detected structure:     %s (confidence %.2f)\n", run.Structure.StructureType, run.Structure.Confidence)
		}
		fmt.Println()
		fmt.Printf("Next: rfp ask %s to answer clarifying questions, then rfp generate %s.\n", run.ID, run.ID)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processName, "name", "", "run name (defaults to the file name)")
	rootCmd.AddCommand(processCmd)
}
