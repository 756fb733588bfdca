package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

const requirementsSystemPrompt = `You are an RFP requirements analyst.

You receive a scoped RFP text that already contains only necessary information.

Your task is to SPLIT the information into two categories:

1) solution_requirements:
   - These describe what the buyer wants from the solution or service.
   - Examples: functional requirements, technical stack constraints, performance/SLA targets, security/compliance needs, support model, implementation approach, training, reporting, integrations.

2) response_structure_requirements:
   - These describe HOW the bidder must respond.
   - Examples: languages, page/word limits, document structure and headings, mandatory sections, templates to use, format (PDF, DOCX, portal fields), submission method.

CRITICAL: These requirements will be used to create an RFP response. You MUST preserve the COMPLETE original text from the RFP document for each requirement.

For each requirement, produce an object with:
  - id: short machine-friendly identifier (e.g., "SOL-ARCH-01", "RESP-FORMAT-01").
  - type: "mandatory" or "optional" where clear from context (otherwise "unspecified").
  - source_text: THE COMPLETE, FULL original text from the RFP document for this requirement. Do NOT summarize or truncate.
  - normalized_text: a concise, unambiguous restatement in clear English suitable for quick reference.
  - category: a short tag (e.g., "Architecture", "Security", "SLA", "Submission-Format", "Language").

Output JSON ONLY with:
- solution_requirements: list of requirement objects.
- response_structure_requirements: list of requirement objects.
- notes: any clarifying comments or assumptions you made.

Respond with STRICTLY valid JSON. Do not include explanations.`

// RequirementsStage splits the scoped RFP text into solution requirements
// and response-structure requirements. IDs coming back from the model are
// normalized: missing IDs are generated, duplicates get a numeric suffix.
func RequirementsStage(ctx context.Context, client llm.Client, cfg config.AnthropicConfig, essentialText string, extraction *model.ExtractionResult) (*model.RequirementsResult, error) {
	if strings.TrimSpace(essentialText) == "" {
		return nil, eris.New("pipeline: requirements stage requires scoped text")
	}

	var sb strings.Builder
	sb.WriteString("=== SCOPED RFP TEXT ===\n")
	sb.WriteString(essentialText)
	if extraction != nil && extraction.KeyRequirementsSummary != "" {
		sb.WriteString("\n\n=== KEY REQUIREMENTS SUMMARY ===\n")
		sb.WriteString(extraction.KeyRequirementsSummary)
	}
	sb.WriteString("\n\nIMPORTANT: For each requirement, the 'source_text' field must contain the COMPLETE, FULL original text from the RFP above. Do NOT summarize or truncate.")

	var wire struct {
		SolutionRequirements          []model.RequirementItem `json:"solution_requirements"`
		ResponseStructureRequirements []model.RequirementItem `json:"response_structure_requirements"`
		Notes                         string                  `json:"notes"`
	}
	resp, err := completeJSONRetry(ctx, client, llm.Request{
		Model:     cfg.SonnetModel,
		MaxTokens: int64(cfg.MaxTokens),
		System:    []llm.SystemBlock{{Text: requirementsSystemPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: sb.String()}},
	}, &wire, "requirements")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: requirements stage")
	}
	resp.Usage.LogUsage(resp.Model, "requirements")

	result := &model.RequirementsResult{
		SolutionRequirements:          normalizeRequirements(wire.SolutionRequirements, "SOL"),
		ResponseStructureRequirements: normalizeRequirements(wire.ResponseStructureRequirements, "RESP"),
		Notes:                         wire.Notes,
	}

	if len(result.SolutionRequirements) == 0 {
		return nil, eris.New("pipeline: requirements stage found no solution requirements")
	}

	zap.L().Info("pipeline: requirements complete",
		zap.Int("solution", len(result.SolutionRequirements)),
		zap.Int("response_structure", len(result.ResponseStructureRequirements)),
	)
	return result, nil
}

// normalizeRequirements ensures every item has a valid type and a unique,
// non-empty ID. Duplicate IDs get a numeric suffix so validation never
// rejects an otherwise usable extraction over model sloppiness.
func normalizeRequirements(items []model.RequirementItem, prefix string) []model.RequirementItem {
	seen := make(map[string]bool, len(items))
	out := make([]model.RequirementItem, 0, len(items))
	for i, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			item.ID = fmt.Sprintf("%s-%02d", prefix, i+1)
		}
		if seen[item.ID] {
			base := item.ID
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d", base, n)
				if !seen[candidate] {
					item.ID = candidate
					break
				}
			}
		}
		seen[item.ID] = true

		switch item.Type {
		case model.RequirementMandatory, model.RequirementOptional, model.RequirementUnspecified:
		default:
			item.Type = model.RequirementUnspecified
		}
		if strings.TrimSpace(item.SourceText) == "" {
			item.SourceText = item.NormalizedText
		}
		if strings.TrimSpace(item.SourceText) == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
