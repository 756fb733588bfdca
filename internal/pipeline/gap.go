package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/kb"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
	"github.com/fusionaix/rfp-cli/pkg/llm"
	"github.com/fusionaix/rfp-cli/pkg/retrieval"
)

const questionSystemPrompt = `You are an expert at analyzing RFP requirements and identifying what information a VENDOR needs to provide to create a complete, concrete response.

CRITICAL CONTEXT:
- You are helping a VENDOR create a response to an RFP
- Your goal is to identify what information the VENDOR needs to provide about THEIR SOLUTION to answer each requirement
- You are NOT asking the vendor to clarify what the RFP requires - the RFP is the source of truth
- You ARE asking the vendor what THEY can offer, provide or commit to in their response
- If a requirement EXPECTS specific information (team structure, resourcing numbers, certifications, previous projects, timelines), you MUST ask the vendor for it. It cannot be made up.

RULES:
1. DO NOT ask about information already in the company knowledge base
2. Frame every question as asking the vendor about THEIR solution, capabilities or commitments
3. NEVER ask questions that seek to clarify what the RFP requires
4. Generate CLEAR, SPECIFIC questions
5. If all needed information is available or the requirement is self-explanatory, return an empty array []

Output a JSON array of questions, each with:
- question_text: the question to ask the vendor
- gap_description: why this information is needed
- category: short topic label for the gap (e.g. team, certifications, timeline, pricing, technical)
- priority: "high" (critical for answering the requirement), "medium", or "low"`

// GapAnalyzer walks the run's solution requirements looking for information
// the vendor must supply before generation. It keeps a per-session cursor so
// repeated NextQuestion calls never re-evaluate a requirement, and question
// generation failures skip the requirement rather than stopping the flow.
type GapAnalyzer struct {
	client       llm.Client
	anthropic    config.AnthropicConfig
	pipeline     config.PipelineConfig
	retrievalCfg config.RetrievalConfig
	companyKB    *kb.CompanyKB
	retriever    retrieval.Retriever

	mu      sync.Mutex
	cursors map[string]*gapCursor
}

// gapCursor tracks gap-analysis progress for one session.
type gapCursor struct {
	examined map[string]bool
	queued   []model.Question
}

// NewGapAnalyzer creates a GapAnalyzer. The retriever may be nil when no
// reference corpus is configured.
func NewGapAnalyzer(client llm.Client, anthropic config.AnthropicConfig, pipeline config.PipelineConfig, retrievalCfg config.RetrievalConfig, companyKB *kb.CompanyKB, retriever retrieval.Retriever) *GapAnalyzer {
	if companyKB == nil {
		companyKB = kb.New(kb.Profile{})
	}
	return &GapAnalyzer{
		client:       client,
		anthropic:    anthropic,
		pipeline:     pipeline,
		retrievalCfg: retrievalCfg,
		companyKB:    companyKB,
		retriever:    retriever,
		cursors:      make(map[string]*gapCursor),
	}
}

// NextQuestion returns the next clarifying question to put to the user, or
// nil when no gaps remain. Questions already sitting unanswered on the
// session are surfaced first in priority order; then queued questions from
// earlier analysis. After that every unexamined requirement is analyzed in
// one batch and the discovered gaps are surfaced highest priority first:
// a high-priority gap on a later requirement outranks a low-priority gap
// found earlier in requirement order.
func (g *GapAnalyzer) NextQuestion(ctx context.Context, run *model.Run, sess *session.Session) (*model.Question, error) {
	if run.Requirements == nil {
		return nil, nil
	}

	if pending := sess.Pending(); len(pending) > 0 {
		return &pending[0], nil
	}

	cursor := g.cursorFor(sess)

	g.mu.Lock()
	if len(cursor.queued) > 0 {
		q := cursor.queued[0]
		cursor.queued = cursor.queued[1:]
		g.mu.Unlock()
		return &q, nil
	}
	g.mu.Unlock()

	var discovered []model.Question
	for _, req := range run.Requirements.SolutionRequirements {
		g.mu.Lock()
		done := cursor.examined[req.ID]
		if !done {
			cursor.examined[req.ID] = true
		}
		g.mu.Unlock()
		if done {
			continue
		}

		questions := g.analyzeRequirement(ctx, req, run.Requirements)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		discovered = append(discovered, questions...)
	}
	if len(discovered) == 0 {
		return nil, nil
	}

	model.SortQuestionsByPriority(discovered)
	first := discovered[0]
	if len(discovered) > 1 {
		g.mu.Lock()
		cursor.queued = append(cursor.queued, discovered[1:]...)
		g.mu.Unlock()
	}
	return &first, nil
}

// cursorFor returns the session's cursor, seeding the examined set from
// questions already on the session so a resumed flow does not re-ask.
func (g *GapAnalyzer) cursorFor(sess *session.Session) *gapCursor {
	g.mu.Lock()
	defer g.mu.Unlock()

	cursor, ok := g.cursors[sess.ID]
	if !ok {
		cursor = &gapCursor{examined: make(map[string]bool)}
		for _, q := range sess.Questions {
			if q.RequirementID != "" {
				cursor.examined[q.RequirementID] = true
			}
		}
		g.cursors[sess.ID] = cursor
	}
	return cursor
}

// analyzeRequirement asks the model what the vendor must supply for one
// requirement. Any failure logs and returns no questions: a requirement we
// cannot analyze is treated as having no gap.
func (g *GapAnalyzer) analyzeRequirement(ctx context.Context, req model.RequirementItem, all *model.RequirementsResult) []model.Question {
	log := zap.L().With(zap.String("requirement_id", req.ID))

	coverage := g.referenceCoverage(ctx, req)

	var otherParts []string
	for _, r := range all.SolutionRequirements {
		if r.ID != req.ID {
			otherParts = append(otherParts, fmt.Sprintf("[%s] %s", r.ID, r.NormalizedText))
		}
	}
	otherReqs := strings.Join(otherParts, "\n")
	if len(otherReqs) > 1000 {
		otherReqs = otherReqs[:1000]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Analyze this RFP requirement and identify what information the VENDOR needs to provide about THEIR SOLUTION to create a complete response.

REQUIREMENT TO ANALYZE:
ID: %s
Type: %s
Category: %s
Requirement Text: %s
Original Source: %s

CONTEXT - OTHER REQUIREMENTS (for reference):
%s

KNOWN COMPANY INFORMATION (DO NOT ask about these):
%s
`, req.ID, req.Type, req.Category, req.NormalizedText,
		truncateRequirement(req.SourceText, g.pipeline.MaxRequirementChars),
		otherReqs, g.companyKB.FormatForPrompt())

	if coverage != "" {
		sb.WriteString("\nREFERENCE MATERIAL ALREADY ON FILE (DO NOT ask about content covered here):\n")
		sb.WriteString(coverage)
		sb.WriteString("\n")
	}

	sb.WriteString("\nGenerate questions that help the vendor provide concrete information for requirement " + req.ID + ". Return [] if nothing is missing.")

	var wire []struct {
		QuestionText   string `json:"question_text"`
		GapDescription string `json:"gap_description"`
		Category       string `json:"category"`
		Priority       string `json:"priority"`
	}
	resp, err := completeJSONRetry(ctx, g.client, llm.Request{
		Model:     g.anthropic.HaikuModel,
		MaxTokens: 1536,
		System:    []llm.SystemBlock{{Text: questionSystemPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: sb.String()}},
	}, &wire, "gap_analysis")
	if err != nil {
		log.Warn("pipeline: gap analysis failed for requirement, skipping", zap.Error(err))
		return nil
	}
	resp.Usage.LogUsage(resp.Model, "gap_analysis")

	var questions []model.Question
	for _, q := range wire {
		text := strings.TrimSpace(q.QuestionText)
		if text == "" {
			continue
		}
		if g.asksAboutKnownTopic(text) {
			log.Debug("pipeline: dropped question about known topic", zap.String("question", text))
			continue
		}
		priority := q.Priority
		switch priority {
		case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		default:
			priority = model.PriorityMedium
		}
		questions = append(questions, model.Question{
			RequirementID:  req.ID,
			Text:           text,
			Priority:       priority,
			Category:       strings.TrimSpace(q.Category),
			GapDescription: q.GapDescription,
		})
	}

	maxQ := g.pipeline.MaxQuestionsPerRequirement
	if maxQ <= 0 {
		maxQ = 1
	}
	if len(questions) > maxQ {
		model.SortQuestionsByPriority(questions)
		questions = questions[:maxQ]
	}

	log.Info("pipeline: gap analysis examined requirement", zap.Int("questions", len(questions)))
	return questions
}

// referenceCoverage searches the reference corpus for material covering the
// requirement. Search failures are treated as no coverage.
func (g *GapAnalyzer) referenceCoverage(ctx context.Context, req model.RequirementItem) string {
	if g.retriever == nil {
		return ""
	}
	limit := g.retrievalCfg.MaxResults
	if limit <= 0 {
		limit = 3
	}
	results, err := g.retriever.Search(ctx, req.NormalizedText, limit)
	if err != nil {
		zap.L().Warn("pipeline: reference search failed during gap analysis", zap.Error(err))
		return ""
	}
	var parts []string
	for i, r := range results {
		text := r.Document.Content
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		parts = append(parts, fmt.Sprintf("[Ref%d] %s", i+1, text))
	}
	return strings.Join(parts, "\n")
}

// asksAboutKnownTopic reports whether the question text mentions a topic
// the company knowledge base already covers.
func (g *GapAnalyzer) asksAboutKnownTopic(questionText string) bool {
	lower := strings.ToLower(questionText)
	for _, topic := range g.companyKB.KnownTopics() {
		if strings.Contains(lower, strings.ToLower(topic)) && g.companyKB.HasInfo(topic) {
			return true
		}
	}
	return false
}
