package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

const structureDetectionSystemPrompt = `You are an RFP structure analyst. You determine whether an RFP mandates an explicit response document structure.

An EXPLICIT structure means the RFP names mandatory sections or chapters the response must contain, in a required order (e.g., "Your proposal must contain: 1. Executive Summary, 2. Technical Approach, 3. Pricing").

An IMPLICIT structure means the requirements suggest an organization without mandating one.

Formatting and style guidelines alone (page limits, fonts, file formats, language) are NOT a structure.

Return valid JSON only.`

// DetectStructure classifies whether the response-structure requirements
// mandate explicit sections. It never returns an error: with no input it
// confidently reports no structure, and on any LLM or parse failure it
// degrades to no structure at zero confidence so generation falls back to
// per-requirement mode.
func DetectStructure(ctx context.Context, client llm.Client, cfg config.AnthropicConfig, structureReqs []model.RequirementItem) *model.StructureDetectionResult {
	if len(structureReqs) == 0 {
		zap.L().Info("pipeline: structure detection skipped, no response structure requirements")
		return &model.StructureDetectionResult{
			HasExplicitStructure: false,
			StructureType:        model.StructureNone,
			StructureDescription: "No response structure requirements found in RFP.",
			Confidence:           1.0,
		}
	}

	var parts []string
	for _, req := range structureReqs {
		parts = append(parts, fmt.Sprintf("[%s] %s", strings.ToUpper(req.Type), req.SourceText))
	}

	userPrompt := fmt.Sprintf(`Analyze the following response structure requirements from an RFP:

%s

Determine if these requirements specify an EXPLICIT response structure with mandatory sections/chapters, or if they are just formatting/style guidelines.

Output JSON with:
- has_explicit_structure: boolean
- structure_type: "explicit" | "implicit" | "none"
- detected_sections: array of section names (if explicit, e.g., ["Executive Summary", "Technical Approach"])
- structure_description: string describing the structure
- confidence: float between 0.0 and 1.0`, strings.Join(parts, "\n\n"))

	var result model.StructureDetectionResult
	resp, err := completeJSONRetry(ctx, client, llm.Request{
		Model:     cfg.HaikuModel,
		MaxTokens: 1024,
		System:    []llm.SystemBlock{{Text: structureDetectionSystemPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: userPrompt}},
	}, &result, "structure_detection")
	if err != nil {
		zap.L().Error("pipeline: structure detection failed, degrading to none", zap.Error(err))
		return &model.StructureDetectionResult{
			HasExplicitStructure: false,
			StructureType:        model.StructureNone,
			StructureDescription: "Structure detection failed: " + err.Error(),
			Confidence:           0.0,
		}
	}
	resp.Usage.LogUsage(resp.Model, "structure_detection")

	result.Normalize()
	if result.StructureDescription == "" {
		result.StructureDescription = "No explicit structure detected."
	}

	zap.L().Info("pipeline: structure detection complete",
		zap.Bool("explicit", result.HasExplicitStructure),
		zap.String("type", result.StructureType),
		zap.Int("sections", len(result.DetectedSections)),
		zap.Float64("confidence", result.Confidence),
	)
	return &result
}
