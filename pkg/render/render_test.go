package render

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/fusionaix/rfp-cli/internal/model"
)

func sampleInput() Input {
	return Input{
		RunName: "City Portal RFP",
		Result: &model.ResponseResult{
			Mode: model.ModePerRequirement,
			Responses: []model.IndividualResponse{
				{
					RequirementID:   "REQ-1",
					RequirementText: "The system must support single sign-on.",
					KeyPhrase:       "single sign-on",
					Response:        "Our platform integrates with SAML and OIDC providers.",
					Quality:         &model.QualityAssessment{Score: 85, Completeness: model.CompletenessComplete},
				},
				{
					RequirementID:   "REQ-2",
					RequirementText: "The system must provide audit logging.",
					Response:        "[ERROR: generation failed]",
					Failed:          true,
				},
			},
			FailedCount: 1,
		},
		Requirements: &model.RequirementsResult{
			SolutionRequirements: []model.RequirementItem{
				{ID: "REQ-1", Type: model.RequirementMandatory, Category: "security", SourceText: "The system must support single sign-on."},
				{ID: "REQ-2", Type: model.RequirementMandatory, Category: "security", SourceText: "The system must provide audit logging."},
			},
		},
	}
}

func TestMarkdownPerRequirement(t *testing.T) {
	out, err := Markdown(sampleInput())
	require.NoError(t, err)

	assert.Contains(t, out, "# City Portal RFP")
	assert.Contains(t, out, "## REQ-1: single sign-on")
	assert.Contains(t, out, "SAML and OIDC")
	assert.Contains(t, out, "Generation failed for this item.")
	assert.Contains(t, out, "1 of 2 items could not be generated")
}

func TestMarkdownStructured(t *testing.T) {
	in := sampleInput()
	in.Result.Mode = model.ModeStructured
	in.Result.Responses = []model.IndividualResponse{
		{RequirementID: "Executive Summary", Response: "We propose..."},
		{RequirementID: "Technical Approach", Response: "Our approach..."},
	}
	in.Result.FailedCount = 0

	out, err := Markdown(in)
	require.NoError(t, err)
	assert.Contains(t, out, "## Executive Summary")
	assert.Contains(t, out, "## Technical Approach")
	assert.NotContains(t, out, "could not be generated")
}

func TestMarkdownEmpty(t *testing.T) {
	_, err := Markdown(Input{Result: &model.ResponseResult{}})
	require.Error(t, err)
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "markdown", re.Format)
}

func TestTraceabilityMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.xlsx")
	require.NoError(t, TraceabilityMatrix(sampleInput(), path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 3) // header + 2 requirements

	assert.Equal(t, "ID", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "REQ-1", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "mandatory", sheet.Rows[1].Cells[1].String())
	assert.Equal(t, "security", sheet.Rows[1].Cells[2].String())
	assert.Equal(t, "generated", sheet.Rows[1].Cells[5].String())
	assert.Equal(t, "85", sheet.Rows[1].Cells[6].String())
	assert.Equal(t, "failed", sheet.Rows[2].Cells[5].String())
}

func TestTraceabilityMatrixNoResult(t *testing.T) {
	err := TraceabilityMatrix(Input{}, filepath.Join(t.TempDir(), "m.xlsx"))
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "xlsx", re.Format)
}
