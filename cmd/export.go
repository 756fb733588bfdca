package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fusionaix/rfp-cli/pkg/render"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a generated response as markdown or an XLSX traceability matrix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("local"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load run")
		}

		in := render.Input{
			RunName:      run.Name,
			Result:       run.Response,
			Requirements: run.Requirements,
		}

		switch exportFormat {
		case "md":
			doc, err := render.Markdown(in)
			if err != nil {
				return err
			}
			if exportOut == "" || exportOut == "-" {
				fmt.Print(doc)
				return nil
			}
			if err := os.WriteFile(exportOut, []byte(doc), 0o644); err != nil {
				return eris.Wrapf(err, "write %s", exportOut)
			}
		case "xlsx":
			if exportOut == "" || exportOut == "-" {
				return eris.New("xlsx export requires -o <path>")
			}
			if err := render.TraceabilityMatrix(in, exportOut); err != nil {
				return err
			}
		default:
			return eris.Errorf("unsupported format %q (md or xlsx)", exportFormat)
		}

		fmt.Fprintf(os.Stderr, "Wrote %s\n", exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "md", "output format: md or xlsx")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (md defaults to stdout)")
	rootCmd.AddCommand(exportCmd)
}
