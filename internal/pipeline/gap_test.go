package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/kb"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

func gapSession() *session.Session {
	return &session.Session{ID: "sess-1", RunID: "run-1"}
}

func newGapAnalyzer(client llm.Client, companyKB *kb.CompanyKB) *GapAnalyzer {
	return NewGapAnalyzer(client, testAnthropicConfig(), testPipelineConfig(), config.RetrievalConfig{}, companyKB, nil)
}

func questionJSON(text, priority string) string {
	return `[{"question_text": "` + text + `", "gap_description": "needed", "priority": "` + priority + `"}]`
}

func TestGapAnalyzerNilRequirements(t *testing.T) {
	g := newGapAnalyzer(&mockLLMClient{}, nil)

	q, err := g.NextQuestion(context.Background(), &model.Run{ID: "run-1"}, gapSession())
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestGapAnalyzerSurfacesPendingFirst(t *testing.T) {
	client := &mockLLMClient{}
	g := newGapAnalyzer(client, nil)

	sess := gapSession()
	sess.Questions = []model.Question{
		{ID: "q1", RequirementID: "REQ-1", Text: "low priority?", Priority: model.PriorityLow},
		{ID: "q2", RequirementID: "REQ-2", Text: "high priority?", Priority: model.PriorityHigh},
	}

	q, err := g.NextQuestion(context.Background(), generationRun(), sess)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "q2", q.ID)
	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestGapAnalyzerExaminesEachRequirementOnce(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[0].Content, "ID: REQ-1\n") {
			return textResponse(questionJSON("What hosting region do you offer?", "high")), nil
		}
		return textResponse("[]"), nil
	}}
	g := newGapAnalyzer(client, nil)
	run := generationRun()
	sess := gapSession()

	// The first call batch-evaluates every requirement exactly once.
	first, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "REQ-1", first.RequirementID)
	assert.Equal(t, 3, client.callCount())

	second, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 3, client.callCount())

	third, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	assert.Nil(t, third)
	assert.Equal(t, 3, client.callCount())
}

func TestGapAnalyzerLooksAheadAcrossRequirements(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[0].Content, "ID: REQ-1\n") {
			return textResponse(questionJSON("Any branding preferences?", "low")), nil
		}
		if strings.Contains(req.Messages[0].Content, "ID: REQ-2\n") {
			return textResponse(questionJSON("Which KMS backs your encryption?", "high")), nil
		}
		return textResponse("[]"), nil
	}}
	g := newGapAnalyzer(client, nil)
	run := generationRun()
	sess := gapSession()

	// The high-priority gap on a later requirement outranks the low-priority
	// gap found first in requirement order.
	first, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "REQ-2", first.RequirementID)
	assert.Equal(t, model.PriorityHigh, first.Priority)

	second, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "REQ-1", second.RequirementID)
	assert.Equal(t, model.PriorityLow, second.Priority)
	assert.Equal(t, 3, client.callCount())
}

func TestGapAnalyzerFailSoftPerRequirement(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[0].Content, "ID: REQ-1\n") {
			return nil, eris.New("boom")
		}
		if strings.Contains(req.Messages[0].Content, "ID: REQ-2\n") {
			return textResponse(questionJSON("Which KMS backs your encryption?", "high")), nil
		}
		return textResponse("[]"), nil
	}}
	g := newGapAnalyzer(client, nil)

	q, err := g.NextQuestion(context.Background(), generationRun(), gapSession())
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "REQ-2", q.RequirementID)
}

func TestGapAnalyzerFiltersKnownTopics(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		return textResponse(questionJSON("Which certifications do you hold?", "high")), nil
	}}
	companyKB := kb.New(kb.Profile{Certifications: []string{"ISO 27001", "SOC 2"}})
	g := newGapAnalyzer(client, companyKB)

	q, err := g.NextQuestion(context.Background(), generationRun(), gapSession())
	require.NoError(t, err)
	assert.Nil(t, q, "questions about covered topics must be dropped")
	assert.Equal(t, 3, client.callCount())
}

func TestGapAnalyzerQueuesExtraQuestions(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[0].Content, "ID: REQ-1\n") {
			return textResponse(`[
				{"question_text": "Low one?", "gap_description": "g", "priority": "low"},
				{"question_text": "High one?", "gap_description": "g", "priority": "high"},
				{"question_text": "Medium one?", "gap_description": "g", "priority": "medium"}
			]`), nil
		}
		return textResponse("[]"), nil
	}}
	cfg := testPipelineConfig()
	cfg.MaxQuestionsPerRequirement = 3
	g := NewGapAnalyzer(client, testAnthropicConfig(), cfg, config.RetrievalConfig{}, nil, nil)
	run := generationRun()
	sess := gapSession()

	first, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "High one?", first.Text)
	assert.Equal(t, 3, client.callCount())

	// Leftovers drain from the queue without consulting the model again.
	second, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "Medium one?", second.Text)
	assert.Equal(t, 3, client.callCount())

	third, err := g.NextQuestion(context.Background(), run, sess)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "Low one?", third.Text)
	assert.Equal(t, 3, client.callCount())
}

func TestGapAnalyzerResumeSkipsAskedRequirements(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		return textResponse("[]"), nil
	}}
	g := newGapAnalyzer(client, nil)

	// A resumed session already carries an answered question for REQ-1.
	sess := gapSession()
	sess.Questions = []model.Question{
		{
			ID:            "q1",
			RequirementID: "REQ-1",
			Text:          "Which region?",
			Priority:      model.PriorityHigh,
			Answered:      true,
			Answer:        &model.Answer{Text: "eu-west-1"},
		},
	}

	q, err := g.NextQuestion(context.Background(), generationRun(), sess)
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Equal(t, 2, client.callCount())

	client.mu.Lock()
	defer client.mu.Unlock()
	for _, call := range client.calls {
		assert.NotContains(t, call.Messages[0].Content, "ID: REQ-1\n")
	}
}

func TestGapAnalyzerKnowledgeBaseReachesPrompt(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		return textResponse("[]"), nil
	}}
	companyKB := kb.New(kb.Profile{CompanyName: "Fusion AI GmbH"})
	g := newGapAnalyzer(client, companyKB)

	_, err := g.NextQuestion(context.Background(), generationRun(), gapSession())
	require.NoError(t, err)
	require.NotZero(t, client.callCount())

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Contains(t, client.calls[0].Messages[0].Content, "Fusion AI GmbH")
	assert.Equal(t, questionSystemPrompt, systemPromptOf(client.calls[0]))
}

func TestGapAnalyzerCarriesCategory(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[0].Content, "ID: REQ-1\n") {
			return textResponse(`[{"question_text": "How large is the delivery team?", "gap_description": "staffing detail", "category": "team", "priority": "high"}]`), nil
		}
		return textResponse("[]"), nil
	}}
	g := newGapAnalyzer(client, nil)

	q, err := g.NextQuestion(context.Background(), generationRun(), gapSession())
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "team", q.Category)
	assert.Equal(t, "staffing detail", q.GapDescription)
}

func TestGapAnalyzerCoverageSearchLimit(t *testing.T) {
	client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
		return textResponse("[]"), nil
	}}
	retriever := &mockRetriever{}
	retriever.On("Search", mock.Anything, mock.Anything, 2).Return(nil, nil)

	g := NewGapAnalyzer(client, testAnthropicConfig(), testPipelineConfig(),
		config.RetrievalConfig{MaxResults: 2}, nil, retriever)

	_, err := g.NextQuestion(context.Background(), generationRun(), gapSession())
	require.NoError(t, err)
	retriever.AssertExpectations(t)
}
