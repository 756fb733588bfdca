package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

const extractionSystemPrompt = `You are an RFP analyst. Extract ONLY information explicitly written in the document.

Tasks:
1. Detect language (ISO code: "en", "fr", etc.)
2. Extract procurement codes - ONLY if explicitly stated
3. Provide a 10-15 bullet summary of key requirements

CRITICAL RULES:
- Do NOT invent codes. Only extract codes that are literally written with their type (e.g., "CPV 12345678"). If no codes found, return empty lists [].
- Do NOT invent or infer dates or deadlines.
- Do NOT include a metadata field with deadlines, budget, or other inferred information.

Output JSON:
- language: ISO code
- cpv_codes: list of strings (only if written in document)
- other_codes: list of strings "TYPE: VALUE" (only if written)
- key_requirements_summary: markdown bullets

Return valid JSON only.`

// extractionWire is the raw LLM output shape. The summary field tolerates
// both a string and a list of bullets.
type extractionWire struct {
	Language               string     `json:"language"`
	CPVCodes               []string   `json:"cpv_codes"`
	OtherCodes             []string   `json:"other_codes"`
	KeyRequirementsSummary flexString `json:"key_requirements_summary"`
}

// flexString accepts a JSON string or an array of strings joined by newlines.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = flexString(strings.Join(list, "\n"))
		return nil
	}
	return eris.New("pipeline: key_requirements_summary is neither string nor list")
}

// ExtractStage runs metadata extraction over the raw RFP text.
func ExtractStage(ctx context.Context, client llm.Client, cfg config.AnthropicConfig, rawText string) (*model.ExtractionResult, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, eris.New("pipeline: extraction requires non-empty raw text")
	}

	userPrompt := fmt.Sprintf(
		"RFP document:\n\n```rfp_text\n%s\n```\n\nExtract ONLY what is explicitly written. Do NOT invent codes or dates. Return empty lists if not found.",
		rawText,
	)

	var wire extractionWire
	resp, err := completeJSONRetry(ctx, client, llm.Request{
		Model:     cfg.HaikuModel,
		MaxTokens: int64(cfg.MaxTokens),
		System:    []llm.SystemBlock{{Text: extractionSystemPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: userPrompt}},
	}, &wire, "extraction")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: extraction stage")
	}
	resp.Usage.LogUsage(resp.Model, "extraction")

	result := &model.ExtractionResult{
		Language:               normalizeLanguage(wire.Language),
		CPVCodes:               filterSuspiciousCodes(wire.CPVCodes),
		OtherCodes:             filterPlaceholderCodes(wire.OtherCodes),
		KeyRequirementsSummary: string(wire.KeyRequirementsSummary),
	}

	zap.L().Info("pipeline: extraction complete",
		zap.String("language", result.Language),
		zap.Int("cpv_codes", len(result.CPVCodes)),
		zap.Int("other_codes", len(result.OtherCodes)),
	)
	return result, nil
}

// normalizeLanguage validates a BCP-47 language code, falling back to the
// undetermined code when the model returns something unparseable.
func normalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "und"
	}
	tag, err := language.Parse(code)
	if err != nil {
		zap.L().Warn("pipeline: invalid language code from extraction", zap.String("code", code))
		return "und"
	}
	return tag.String()
}

// filterSuspiciousCodes drops bare long numerics with no classification
// prefix. Real codes appear in documents as "CPV 72000000" and similar; a
// standalone 8-digit number is usually hallucinated.
func filterSuspiciousCodes(codes []string) []string {
	var kept []string
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		lower := strings.ToLower(code)
		prefixed := false
		for _, prefix := range []string{"cpv", "unspsc", "naics", "nuts", "code"} {
			if strings.Contains(lower, prefix) {
				prefixed = true
				break
			}
		}
		if prefixed {
			kept = append(kept, code)
			continue
		}
		if isAllDigits(code) && len(code) >= 6 {
			zap.L().Warn("pipeline: dropped suspicious standalone numeric code", zap.String("code", code))
			continue
		}
		kept = append(kept, code)
	}
	return kept
}

// filterPlaceholderCodes drops literal "TYPE: VALUE" placeholders the model
// sometimes echoes back from the schema description.
func filterPlaceholderCodes(codes []string) []string {
	var kept []string
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		switch strings.ToLower(code) {
		case "type: value", "type:value", "type : value":
			continue
		}
		kept = append(kept, code)
	}
	return kept
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
