package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/kb"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/pipeline"
	"github.com/fusionaix/rfp-cli/internal/session"
	"github.com/fusionaix/rfp-cli/internal/store"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

// stageClient answers every pipeline stage with canned output, dispatched
// on distinctive fragments of each stage's system prompt.
type stageClient struct{}

func (stageClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	system := ""
	if len(req.System) > 0 {
		system = req.System[0].Text
	}

	text := "We meet this requirement."
	switch {
	case strings.Contains(system, "Extract ONLY information"):
		text = `{"language": "en", "cpv_codes": [], "other_codes": [], "key_requirements_summary": "- portal"}`
	case strings.Contains(system, "extract the text that is NECESSARY"):
		text = `{"essential_text": "The solution must be cloud hosted.", "removed_text": "", "rationale": "kept requirements"}`
	case strings.Contains(system, "requirements analyst"):
		text = `{
			"solution_requirements": [
				{"id": "SOL-01", "type": "mandatory", "source_text": "The solution must be cloud hosted.", "normalized_text": "Cloud hosting", "category": "architecture"}
			],
			"response_structure_requirements": []
		}`
	case strings.Contains(system, "structure analyst"):
		text = `{"has_explicit_structure": false, "structure_type": "none", "detected_sections": [], "structure_description": "", "confidence": 1.0}`
	case strings.Contains(system, "what information a VENDOR"):
		text = "[]"
	case strings.Contains(system, "quality reviewer"):
		text = `{"score": 80, "completeness": "complete", "relevance": "high", "issues": [], "suggestions": []}`
	}

	return &llm.Response{ID: "msg_test", Model: req.Model, Text: text}, nil
}

// gapStageClient behaves like stageClient but reports one information gap
// during question generation.
type gapStageClient struct {
	stageClient
}

func (c gapStageClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.System) > 0 && strings.Contains(req.System[0].Text, "what information a VENDOR") {
		return &llm.Response{
			ID:    "msg_test",
			Model: req.Model,
			Text:  `[{"question_text": "Which cloud regions do you support?", "gap_description": "hosting detail", "category": "technical", "priority": "high"}]`,
		}, nil
	}
	return c.stageClient.Complete(ctx, req)
}

func newTestAPI() (*apiServer, store.Store) {
	return newTestAPIWithClient(stageClient{})
}

func newTestAPIWithClient(client llm.Client) (*apiServer, store.Store) {
	st := store.NewMemory()
	testCfg := &config.Config{
		Anthropic: config.AnthropicConfig{HaikuModel: "test-haiku", SonnetModel: "test-sonnet", MaxTokens: 4096},
		Pipeline: config.PipelineConfig{
			StructureConfidenceThreshold: 0.6,
			GenerationConcurrency:        2,
			GenerationRatePerSec:         1000,
		},
	}
	p := pipeline.New(testCfg, st, client, nil, kb.New(kb.Profile{}))
	env := &pipelineEnv{Store: st, Pipeline: p}
	return &apiServer{env: env, serverCtx: context.Background()}, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	api, _ := newTestAPI()
	rec := doJSON(t, api.routes(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServeCreateAndGetRun(t *testing.T) {
	api, _ := newTestAPI()
	h := api.routes()

	rec := doJSON(t, h, http.MethodPost, "/runs", map[string]string{
		"name":     "portal",
		"raw_text": "Tender text.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.RunStatusPending, created.Status)

	rec = doJSON(t, h, http.MethodGet, "/runs/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeCreateRunValidation(t *testing.T) {
	api, _ := newTestAPI()
	h := api.routes()

	rec := doJSON(t, h, http.MethodPost, "/runs", map[string]string{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestServeProcessRunsInBackground(t *testing.T) {
	api, st := newTestAPI()
	h := api.routes()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "portal", "The solution must be cloud hosted.")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/process", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		stored, err := st.GetRun(ctx, run.ID)
		return err == nil && stored.Status == model.RunStatusAwaiting
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeGenerateRequiresConfirmation(t *testing.T) {
	api, st := newTestAPI()
	h := api.routes()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "portal", "The solution must be cloud hosted.")
	require.NoError(t, err)
	_, err = api.env.Pipeline.Process(ctx, run.ID)
	require.NoError(t, err)

	// Unconfirmed build query is a conflict, not a crash.
	rec := doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/generate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		stored, err := st.GetRun(ctx, run.ID)
		return err == nil && stored.Status == model.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeGenerateBlockedByPendingQuestions(t *testing.T) {
	api, st := newTestAPIWithClient(gapStageClient{})
	h := api.routes()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "portal", "The solution must be cloud hosted.")
	require.NoError(t, err)
	_, err = api.env.Pipeline.Process(ctx, run.ID)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Surfacing a question leaves it pending on the session.
	rec = doJSON(t, h, http.MethodGet, "/runs/"+run.ID+"/question", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q model.Question
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.NotEmpty(t, q.ID)

	rec = doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/generate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "unanswered")

	rec = doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/answers", map[string]string{
		"question_id": q.ID,
		"text":        "eu-west-1 and eu-central-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		stored, err := st.GetRun(ctx, run.ID)
		return err == nil && stored.Status == model.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeSessionFlow(t *testing.T) {
	api, st := newTestAPI()
	h := api.routes()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "portal", "The solution must be cloud hosted.")
	require.NoError(t, err)
	_, err = api.env.Pipeline.Process(ctx, run.ID)
	require.NoError(t, err)

	// Session is created on demand.
	rec := doJSON(t, h, http.MethodGet, "/runs/"+run.ID+"/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, run.ID, sess.RunID)

	// The canned model reports no gaps, so the question well is dry.
	rec = doJSON(t, h, http.MethodGet, "/runs/"+run.ID+"/question", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Answering a question that does not exist is a 404.
	rec = doJSON(t, h, http.MethodPost, "/runs/"+run.ID+"/answers", map[string]string{
		"question_id": "nope",
		"text":        "answer",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeExport(t *testing.T) {
	api, st := newTestAPI()
	h := api.routes()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "portal", "The solution must be cloud hosted.")
	require.NoError(t, err)

	// No response yet: export conflicts.
	rec := doJSON(t, h, http.MethodGet, "/runs/"+run.ID+"/export", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err = api.env.Pipeline.Process(ctx, run.ID)
	require.NoError(t, err)
	_, err = api.env.Pipeline.ConfirmBuildQuery(ctx, run.ID)
	require.NoError(t, err)
	_, err = api.env.Pipeline.Generate(ctx, run.ID)
	require.NoError(t, err)

	rec = doJSON(t, h, http.MethodGet, "/runs/"+run.ID+"/export?format=md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "# portal")

	rec = doJSON(t, h, http.MethodGet, "/runs/"+run.ID+"/export?format=xlsx", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
