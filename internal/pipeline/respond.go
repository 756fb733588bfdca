package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
	"github.com/fusionaix/rfp-cli/pkg/retrieval"
)

const responseSystemPrompt = `You are an RFP response writer. Write comprehensive, detailed responses to specific requirements.

CRITICAL RULES:
- Address ONLY the specific requirement provided - no executive summaries, no solution overviews, no generic introductions
- Show understanding of the requirement first, then provide a comprehensive, detailed response
- Be specific and concrete - use company capabilities and references where relevant
- If USER-PROVIDED INFORMATION (Q&A) is provided, use the FULL, COMPLETE answers - do NOT summarize or condense them
- NEVER make up information (numbers, metrics, team sizes). If the requirement asks for specific information that is not in the Q&A or knowledge base, note that it needs to be provided
- Use reference examples for CONTENT only (facts, capabilities), NOT for structure
- NO sections like "Executive Summary" or "Introduction" - answer the requirement directly
- Provide clean text content only; document formatting is handled downstream`

// generationEnv bundles the collaborators per-requirement generation needs.
type generationEnv struct {
	client    llm.Client
	anthropic config.AnthropicConfig
	pipeline  config.PipelineConfig
	retriever retrieval.Retriever
	kbContext string
	qaContext string
}

// chunkLimit returns how many reference chunks to pull per prompt.
func (e generationEnv) chunkLimit() int {
	if e.pipeline.RetrievalChunks <= 0 {
		return 4
	}
	return e.pipeline.RetrievalChunks
}

// systemBlocks builds the system prompt for a generation call. Company
// context rides in a cached block so repeated calls over one run reuse it
// instead of re-sending the whole knowledge base every time.
func (e generationEnv) systemBlocks(prompt string) []llm.SystemBlock {
	blocks := []llm.SystemBlock{{Text: prompt}}
	if e.kbContext != "" {
		blocks = append(blocks, llm.CachedSystem("COMPANY CONTEXT:\n"+e.kbContext)...)
	}
	return blocks
}

// truncateRequirement caps requirement text injected into prompts so one
// oversized source passage cannot crowd out the rest of the context.
func truncateRequirement(text string, limit int) string {
	if limit <= 0 {
		limit = 4000
	}
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

// PerRequirementGeneration generates one response per solution requirement
// with bounded concurrency and a shared rate limit. A failed item becomes a
// recognizable error placeholder at its original position; siblings are
// unaffected. Only context cancellation aborts the whole operation.
func PerRequirementGeneration(ctx context.Context, env generationEnv, run *model.Run) (*model.ResponseResult, error) {
	reqs := run.Requirements.SolutionRequirements
	structureReqs := run.Requirements.ResponseStructureRequirements

	concurrency := env.pipeline.GenerationConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	ratePerSec := env.pipeline.GenerationRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSec), 1)

	zap.L().Info("pipeline: per-requirement generation starting",
		zap.Int("requirements", len(reqs)),
		zap.Int("concurrency", concurrency),
		zap.Float64("rate_per_sec", ratePerSec),
	)

	responses := make([]model.IndividualResponse, len(reqs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := limiter.Wait(gCtx); err != nil {
				return err
			}
			responses[i] = GenerateForRequirement(gCtx, env, run.Extraction, req, structureReqs)
			return gCtx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range responses {
		if r.Failed {
			failed++
		}
	}

	result := &model.ResponseResult{
		Mode:        model.ModePerRequirement,
		Responses:   responses,
		FailedCount: failed,
	}
	if failed > 0 {
		result.Notes = fmt.Sprintf("%d of %d requirement responses failed to generate", failed, len(reqs))
	}

	zap.L().Info("pipeline: per-requirement generation complete",
		zap.Int("responses", len(responses)),
		zap.Int("failed", failed),
	)
	return result, nil
}

// GenerateForRequirement writes the response for a single requirement. On
// failure it returns an error placeholder rather than propagating: one bad
// requirement must not sink the rest of the document.
func GenerateForRequirement(ctx context.Context, env generationEnv, extraction *model.ExtractionResult, req model.RequirementItem, structureReqs []model.RequirementItem) model.IndividualResponse {
	log := zap.L().With(zap.String("requirement_id", req.ID))

	promptReq := req
	promptReq.SourceText = truncateRequirement(req.SourceText, env.pipeline.MaxRequirementChars)
	bq := BuildQueryForRequirement(extraction, promptReq, structureReqs)
	chunks := retrieveChunks(ctx, env.retriever, req.NormalizedText, env.chunkLimit())

	var sb strings.Builder
	sb.WriteString("REQUIREMENT TO ADDRESS:\n")
	sb.WriteString(bq.SolutionRequirementsSummary)
	sb.WriteString("\n\n")

	if bq.ResponseStructureRequirementsSummary != "No response structure requirements found." {
		sb.WriteString("NOTE: Response structure requirements (formatting/style guidance only):\n")
		sb.WriteString(bq.ResponseStructureRequirementsSummary)
		sb.WriteString("\nThese govern overall document formatting - do NOT add sections like 'Executive Summary' to this individual response.\n\n")
	}

	if chunks != "" {
		sb.WriteString("PRIOR PROPOSAL EXAMPLES (for content/info only):\n")
		sb.WriteString(chunks)
		sb.WriteString("\n\n")
	}

	if env.qaContext != "" {
		sb.WriteString(heavyRule + "\n")
		sb.WriteString("USER-PROVIDED INFORMATION (MUST USE FULL DETAILS):\n")
		sb.WriteString(heavyRule + "\n")
		sb.WriteString(env.qaContext)
		sb.WriteString("\nIntegrate the COMPLETE answers above naturally into the response - do not summarize them.\n\n")
	}

	sb.WriteString("TASK: Write a comprehensive, detailed response to the requirement above. Answer it directly, with concrete details and capabilities. Do not include executive summaries or generic introductions.")

	resp, err := completeTextRetry(ctx, env.client, llm.Request{
		Model:     env.anthropic.SonnetModel,
		MaxTokens: int64(env.anthropic.MaxTokens),
		System:    env.systemBlocks(responseSystemPrompt),
		Messages:  []llm.Message{{Role: "user", Content: sb.String()}},
	}, "generate_requirement")
	if err != nil {
		log.Error("pipeline: requirement generation failed", zap.Error(err))
		return model.IndividualResponse{
			RequirementID:   req.ID,
			RequirementText: req.SourceText,
			KeyPhrase:       model.KeyPhrase(req.NormalizedText, 8),
			Response:        fmt.Sprintf("[ERROR: failed to generate response for %s: %v]", req.ID, err),
			Failed:          true,
			Quality: &model.QualityAssessment{
				Score:        0,
				Completeness: model.CompletenessIncomplete,
				Relevance:    "low",
				Issues:       []string{"generation failed: " + err.Error()},
			},
		}
	}
	resp.Usage.LogUsage(resp.Model, "generate_requirement")

	out := model.IndividualResponse{
		RequirementID:   req.ID,
		RequirementText: req.SourceText,
		KeyPhrase:       model.KeyPhrase(req.NormalizedText, 8),
		Response:        strings.TrimSpace(resp.Text),
	}

	if env.pipeline.QualityEnabled {
		out.Quality = AssessQuality(ctx, env.client, env.anthropic, req, out.Response)
	}
	return out
}

// retrieveChunks searches the reference corpus, formatting hits for prompt
// injection. A missing retriever or failed search yields no chunks.
func retrieveChunks(ctx context.Context, retriever retrieval.Retriever, query string, limit int) string {
	if retriever == nil {
		return ""
	}
	results, err := retriever.Search(ctx, query, limit)
	if err != nil {
		zap.L().Warn("pipeline: reference search failed during generation", zap.Error(err))
		return ""
	}
	var parts []string
	for i, r := range results {
		text := r.Document.Content
		if len(text) > 800 {
			text = text[:800] + "..."
		}
		parts = append(parts, fmt.Sprintf("[Ex%d] %s", i+1, text))
	}
	return strings.Join(parts, "\n")
}
