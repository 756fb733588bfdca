package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

const qualitySystemPrompt = `You are an RFP response quality reviewer. You score how well a draft response addresses its requirement. Be strict but fair. Return valid JSON only.`

// AssessQuality scores a generated response against its requirement. The
// assessment is advisory metadata and never blocks generation: any failure
// yields a neutral score with unknown completeness.
func AssessQuality(ctx context.Context, client llm.Client, cfg config.AnthropicConfig, req model.RequirementItem, responseText string) *model.QualityAssessment {
	userPrompt := fmt.Sprintf(`Evaluate the quality of this RFP response:

REQUIREMENT:
%s

RESPONSE:
%s

Provide a quality assessment with:
- score: 0-100 (how well does it address the requirement?)
- completeness: "complete", "partial", or "incomplete"
- relevance: "high", "medium", or "low"
- issues: list of specific problems or gaps
- suggestions: list of improvement suggestions

Output JSON format.`, req.SourceText, responseText)

	var wire model.QualityAssessment
	resp, err := completeJSONRetry(ctx, client, llm.Request{
		Model:     cfg.HaikuModel,
		MaxTokens: 1024,
		System:    []llm.SystemBlock{{Text: qualitySystemPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: userPrompt}},
	}, &wire, "quality_assessment")
	if err != nil {
		zap.L().Warn("pipeline: quality assessment failed, using neutral score",
			zap.String("requirement_id", req.ID),
			zap.Error(err),
		)
		return &model.QualityAssessment{
			Score:        50,
			Completeness: model.CompletenessUnknown,
			Relevance:    "unknown",
			Issues:       []string{"quality assessment failed: " + err.Error()},
		}
	}
	resp.Usage.LogUsage(resp.Model, "quality_assessment")

	if wire.Score < 0 {
		wire.Score = 0
	}
	if wire.Score > 100 {
		wire.Score = 100
	}
	switch wire.Completeness {
	case model.CompletenessComplete, model.CompletenessPartial, model.CompletenessIncomplete:
	default:
		wire.Completeness = model.CompletenessPartial
	}
	switch wire.Relevance {
	case "high", "medium", "low":
	default:
		wire.Relevance = "medium"
	}

	zap.L().Debug("pipeline: quality assessed",
		zap.String("requirement_id", req.ID),
		zap.Float64("score", wire.Score),
		zap.String("completeness", wire.Completeness),
	)
	return &wire
}
