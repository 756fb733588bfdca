package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var askMax int

var askCmd = &cobra.Command{
	Use:   "ask <run-id>",
	Short: "Answer clarifying questions for a run",
	Long:  "Walks the gaps found in the run's requirements one question at a time. Press Enter on an empty line to skip a question. Each answer is folded into the build query immediately.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		reader := bufio.NewReader(os.Stdin)
		asked := 0

		for askMax <= 0 || asked < askMax {
			q, err := env.Pipeline.NextQuestion(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "next question")
			}
			if q == nil {
				break
			}
			asked++

			label := strings.ToUpper(q.Priority)
			if q.Category != "" {
				label += "/" + q.Category
			}
			fmt.Printf("\n[%s] %s\n", label, q.Text)
			if q.GapDescription != "" {
				fmt.Printf("  (%s, requirement %s)\n", q.GapDescription, q.RequirementID)
			}
			fmt.Print("> ")

			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				// EOF with nothing typed: stop asking, keep what we have.
				fmt.Println()
				break
			}
			answer := strings.TrimSpace(line)

			if err := env.Pipeline.SubmitAnswer(ctx, runID, q.ID, answer); err != nil {
				return eris.Wrap(err, "submit answer")
			}
			if answer == "" {
				fmt.Println("  skipped")
			}
		}

		if asked == 0 {
			fmt.Println("No clarifying questions. The run is ready for rfp generate.")
			return nil
		}

		sess, err := env.Store.GetSessionByRun(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load session")
		}
		answered := 0
		for _, q := range sess.Answered() {
			if q.Answer != nil && !q.Answer.Skipped {
				answered++
			}
		}
		fmt.Printf("\n%d question(s) asked, %d answered. Run rfp generate %s when ready.\n", asked, answered, runID)
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&askMax, "max", 0, "stop after this many questions (0 = until no gaps remain)")
	rootCmd.AddCommand(askCmd)
}
