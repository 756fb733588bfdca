package render

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// TraceabilityMatrix writes an XLSX workbook mapping each requirement to
// its generated response and quality assessment, for reviewers who work
// in spreadsheets.
func TraceabilityMatrix(in Input, path string) error {
	if err := in.validate("xlsx"); err != nil {
		return err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Traceability")
	if err != nil {
		return eris.Wrap(err, "render: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"ID", "Type", "Category", "Requirement", "Response", "Status", "Quality Score", "Completeness"} {
		header.AddCell().Value = h
	}

	for _, resp := range in.Result.Responses {
		row := sheet.AddRow()

		var req model.RequirementItem
		if in.Requirements != nil {
			req, _ = in.Requirements.RequirementByID(resp.RequirementID)
		}

		row.AddCell().Value = resp.RequirementID
		row.AddCell().Value = req.Type
		row.AddCell().Value = req.Category
		row.AddCell().Value = firstNonEmpty(resp.RequirementText, req.SourceText)
		row.AddCell().Value = resp.Response

		status := "generated"
		if resp.Failed {
			status = "failed"
		}
		row.AddCell().Value = status

		if resp.Quality != nil {
			row.AddCell().Value = fmt.Sprintf("%.0f", resp.Quality.Score)
			row.AddCell().Value = resp.Quality.Completeness
		} else {
			row.AddCell().Value = ""
			row.AddCell().Value = ""
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "render: save %s", path)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
