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

const scopeSystemPrompt = `You are an RFP analysis assistant. Your task is to extract the text that is NECESSARY to create a response to this RFP.

KEEP in essential_text:
- RFP number/identifier and title
- Introduction, Background, Objectives (all substantive content)
- Scope of Work (all of it)
- Requirements (functional, technical, non-functional) - ALL requirements
- Evaluation criteria (the actual criteria)
- Vendor qualifications
- Proposal structure requirements (what sections to include)
- RFP timeline/dates
- File format instructions

REMOVE from essential_text (put in removed_text):
- Procurement email addresses, physical addresses, phone numbers
- Named contact people and titles
- Signature blocks, document control metadata
- Page headers/footers, copyright notices, confidentiality legends
- "Rights of the Buyer" boilerplate and general legal disclaimers
- Table of contents, page break markers, redundant fluff paragraphs

Output JSON:
{
  "essential_text": "the COMPLETE RFP text with only small administrative snippets removed (80-95% of original)",
  "removed_text": "ONLY the administrative snippets removed, separated by '---REMOVED SECTION---'",
  "rationale": "brief explanation of what was excluded"
}

CRITICAL: Return the COMPLETE essential_text - do NOT truncate. Return ONLY valid JSON.`

// ScopeStage trims the RFP down to the text needed to write a response.
// A response the model produces but that fails to parse degrades to the
// full input text so downstream stages always have something to work with.
func ScopeStage(ctx context.Context, client llm.Client, cfg config.AnthropicConfig, rawText string) (*model.ScopeResult, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, eris.New("pipeline: scope requires non-empty raw text")
	}

	userPrompt := fmt.Sprintf("RFP document:\n\n%s\n\nExtract the essential text per the rules. Return ONLY valid JSON.", rawText)

	var wire struct {
		EssentialText string `json:"essential_text"`
		RemovedText   string `json:"removed_text"`
		Rationale     string `json:"rationale"`
	}
	resp, err := completeJSONRetry(ctx, client, llm.Request{
		Model:     cfg.SonnetModel,
		MaxTokens: int64(cfg.MaxTokens),
		System:    []llm.SystemBlock{{Text: scopeSystemPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: userPrompt}},
	}, &wire, "scope")
	if err != nil {
		var schemaErr *llm.SchemaValidationError
		if eris.As(err, &schemaErr) {
			zap.L().Warn("pipeline: scope output unparsable, retaining full text",
				zap.String("detail", schemaErr.Detail))
			return &model.ScopeResult{
				EssentialText: rawText,
				Rationale:     "scope parsing failed; retained full text",
			}, nil
		}
		return nil, eris.Wrap(err, "pipeline: scope stage")
	}
	resp.Usage.LogUsage(resp.Model, "scope")

	if strings.TrimSpace(wire.EssentialText) == "" {
		zap.L().Warn("pipeline: scope returned empty essential text, retaining full text")
		wire.EssentialText = rawText
		wire.Rationale = "scope returned empty text; retained full text"
	}

	zap.L().Info("pipeline: scope complete",
		zap.Int("input_chars", len(rawText)),
		zap.Int("essential_chars", len(wire.EssentialText)),
	)
	return &model.ScopeResult{
		EssentialText: wire.EssentialText,
		RemovedText:   wire.RemovedText,
		Rationale:     wire.Rationale,
	}, nil
}
