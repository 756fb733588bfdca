package pipeline

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fusionaix/rfp-cli/internal/model"
)

const (
	queryBanner    = "RFP RESPONSE GENERATION QUERY"
	qaSectionBegin = "=== ANSWERED CLARIFICATIONS ==="
)

var (
	heavyRule = strings.Repeat("=", 80)
	lightRule = strings.Repeat("-", 80)
)

// BuildQueryStage deterministically assembles the consolidated build query
// from extraction and requirements. No LLM involved: the same inputs always
// produce the same query text.
func BuildQueryStage(extraction *model.ExtractionResult, requirements *model.RequirementsResult) (*model.BuildQuery, error) {
	if extraction == nil || requirements == nil {
		return nil, eris.New("pipeline: build query requires extraction and requirements artifacts")
	}

	var solutionParts []string
	for _, req := range requirements.SolutionRequirements {
		solutionParts = append(solutionParts, fmt.Sprintf("[%s] %s", req.ID, req.SourceText))
	}
	solutionSummary := "No solution requirements found."
	if len(solutionParts) > 0 {
		solutionSummary = strings.Join(solutionParts, "\n")
	}

	var structureParts []string
	for _, req := range requirements.ResponseStructureRequirements {
		structureParts = append(structureParts, fmt.Sprintf("[%s] %s", req.ID, req.SourceText))
	}
	structureSummary := "No response structure requirements found."
	if len(structureParts) > 0 {
		structureSummary = strings.Join(structureParts, "\n")
	}

	return assembleQuery(extraction, "SOLUTION REQUIREMENTS (What the buyer wants):", solutionSummary, structureSummary), nil
}

// BuildQueryForRequirement assembles a build query scoped to a single
// solution requirement, used by per-requirement generation.
func BuildQueryForRequirement(extraction *model.ExtractionResult, req model.RequirementItem, structureReqs []model.RequirementItem) *model.BuildQuery {
	var structureParts []string
	for _, r := range structureReqs {
		structureParts = append(structureParts, r.SourceText)
	}
	structureSummary := "No response structure requirements found."
	if len(structureParts) > 0 {
		structureSummary = strings.Join(structureParts, "\n\n")
	}

	return assembleQuery(extraction, "SOLUTION REQUIREMENT (What the buyer wants):", req.SourceText, structureSummary)
}

func assembleQuery(extraction *model.ExtractionResult, solutionHeading, solutionSummary, structureSummary string) *model.BuildQuery {
	summary := extraction.KeyRequirementsSummary
	if summary == "" {
		summary = "None"
	}

	queryParts := []string{
		queryBanner,
		heavyRule,
		"",
		solutionHeading,
		lightRule,
		solutionSummary,
		"",
		"RESPONSE STRUCTURE REQUIREMENTS (How to respond):",
		lightRule,
		structureSummary,
		"",
		"EXTRACTION DATA:",
		lightRule,
		"Language: " + extraction.Language,
		"",
		"KEY REQUIREMENTS SUMMARY:",
		summary,
	}

	return &model.BuildQuery{
		QueryText:                            strings.Join(queryParts, "\n"),
		SolutionRequirementsSummary:          solutionSummary,
		ResponseStructureRequirementsSummary: structureSummary,
		ExtractionData: map[string]any{
			"language":                 extraction.Language,
			"key_requirements_summary": extraction.KeyRequirementsSummary,
		},
		Confirmed: false,
	}
}

// EnrichBuildQuery appends the session's answered Q&A pairs to the build
// query as a delimited section. Any previous Q&A section is stripped first,
// so calling this after every answer always yields one section holding the
// full answer set. Enrichment never touches the requirement sections and
// never resets confirmation.
func EnrichBuildQuery(bq *model.BuildQuery, qaContext string) *model.BuildQuery {
	if bq == nil {
		return nil
	}

	base := bq.QueryText
	if idx := strings.Index(base, qaSectionBegin); idx >= 0 {
		base = strings.TrimRight(base[:idx], "\n")
	}

	enriched := *bq
	if strings.TrimSpace(qaContext) == "" {
		enriched.QueryText = base
		return &enriched
	}

	enriched.QueryText = base + "\n\n" + qaSectionBegin + "\n" + strings.TrimSpace(qaContext) + "\n"
	return &enriched
}
