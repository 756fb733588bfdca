package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

const structuredResponseSystemPrompt = `You are an RFP response writer. Generate a complete RFP response document following the EXACT structure specified in the RFP.

CRITICAL RULES:
- Follow the RFP's required structure EXACTLY - include all specified sections in the required order
- Each section should address the relevant solution requirements from the RFP
- Be specific and concrete - use company capabilities and references where relevant
- If USER-PROVIDED INFORMATION (Q&A) is provided, use the FULL, COMPLETE answers - do NOT summarize or condense them
- NEVER make up information (numbers, metrics, team sizes). If required information is not in the Q&A or knowledge base, note that it needs to be provided
- Maintain a professional tone and clear organization

Output JSON only:
{"sections": [{"name": "<section name>", "content": "<section content>"}]}

The sections array must contain one entry per required section, in order.`

// StructuredGeneration generates the whole response in one schema-bound
// call, with output sections aligned to the detected structure: sections
// come back in detected order, a section the model skipped is kept as an
// empty placeholder, and sections the model invented are dropped. Unlike
// per-requirement mode, any failure fails the whole operation: a document
// missing half its mandated sections is not a partial success.
func StructuredGeneration(ctx context.Context, env generationEnv, run *model.Run) (*model.ResponseResult, error) {
	structure := run.Structure
	if structure == nil || !structure.HasExplicitStructure {
		return nil, eris.New("pipeline: structured generation requires an explicit detected structure")
	}
	if len(structure.DetectedSections) == 0 {
		return nil, eris.New("pipeline: structured generation requires detected sections")
	}

	var solutionParts []string
	for _, req := range run.Requirements.SolutionRequirements {
		solutionParts = append(solutionParts, fmt.Sprintf("- [%s] %s", strings.ToUpper(req.Type), req.NormalizedText))
	}

	var sb strings.Builder
	sb.WriteString("RFP RESPONSE STRUCTURE REQUIREMENTS:\n")
	sb.WriteString(structure.StructureDescription)
	sb.WriteString("\n\nREQUIRED SECTIONS (in order):\n")
	for i, section := range structure.DetectedSections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, section)
	}
	sb.WriteString("\nSOLUTION REQUIREMENTS TO ADDRESS:\n")
	sb.WriteString(strings.Join(solutionParts, "\n"))
	sb.WriteString("\n\n")

	chunks := retrieveChunks(ctx, env.retriever, structure.StructureDescription+"\n"+firstRequirementText(run), env.chunkLimit())
	if chunks != "" {
		sb.WriteString("PRIOR PROPOSAL EXAMPLES (for content reference only):\n")
		sb.WriteString(chunks)
		sb.WriteString("\n\n")
	}

	if env.qaContext != "" {
		sb.WriteString(heavyRule + "\n")
		sb.WriteString("USER-PROVIDED INFORMATION (MUST USE FULL DETAILS):\n")
		sb.WriteString(heavyRule + "\n")
		sb.WriteString(env.qaContext)
		sb.WriteString("\nIntegrate the COMPLETE answers above into the relevant sections - do not summarize them.\n\n")
	}

	sb.WriteString("TASK: Generate the complete RFP response document following the EXACT structure above. Include ALL required sections in order. Return JSON only.")

	var wire struct {
		Sections []struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		} `json:"sections"`
	}
	resp, err := completeJSONRetry(ctx, env.client, llm.Request{
		Model:     env.anthropic.SonnetModel,
		MaxTokens: int64(env.anthropic.MaxTokens),
		System:    env.systemBlocks(structuredResponseSystemPrompt),
		Messages:  []llm.Message{{Role: "user", Content: sb.String()}},
	}, &wire, "structured_generation")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: structured generation")
	}
	resp.Usage.LogUsage(resp.Model, "structured_generation")

	generated := make(map[string]string, len(wire.Sections))
	for _, s := range wire.Sections {
		key := sectionKey(s.Name)
		if key == "" {
			continue
		}
		if _, ok := generated[key]; !ok {
			generated[key] = s.Content
		}
	}

	responses := make([]model.IndividualResponse, 0, len(structure.DetectedSections))
	missing := 0
	for _, section := range structure.DetectedSections {
		content, ok := generated[sectionKey(section)]
		item := model.IndividualResponse{
			RequirementID: section,
			Response:      strings.TrimSpace(content),
		}
		if !ok || strings.TrimSpace(content) == "" {
			item.Response = ""
			item.Notes = "section not generated"
			missing++
		}
		responses = append(responses, item)
	}

	if dropped := len(generated) - (len(structure.DetectedSections) - missing); dropped > 0 {
		zap.L().Warn("pipeline: structured generation returned extra sections, dropped",
			zap.Int("dropped", dropped))
	}

	result := &model.ResponseResult{
		Mode:      model.ModeStructured,
		Responses: responses,
	}
	if missing > 0 {
		result.Notes = fmt.Sprintf("%d of %d sections came back empty", missing, len(structure.DetectedSections))
	}

	zap.L().Info("pipeline: structured generation complete",
		zap.Int("sections", len(responses)),
		zap.Int("empty", missing),
	)
	return result, nil
}

func sectionKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func firstRequirementText(run *model.Run) string {
	if run.Requirements == nil || len(run.Requirements.SolutionRequirements) == 0 {
		return ""
	}
	return run.Requirements.SolutionRequirements[0].NormalizedText
}
