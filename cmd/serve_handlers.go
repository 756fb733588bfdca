package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/pipeline"
	"github.com/fusionaix/rfp-cli/internal/session"
	"github.com/fusionaix/rfp-cli/internal/store"
	"github.com/fusionaix/rfp-cli/pkg/render"
)

// apiServer carries the pipeline environment into HTTP handlers. Long
// stages run on serverCtx rather than the request context, so a client
// hanging up does not cancel processing mid-stage.
type apiServer struct {
	env       *pipelineEnv
	serverCtx context.Context
}

// routes builds the full API router.
func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.health)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Get("/", s.listRuns)

		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/process", s.processRun)
			r.Post("/confirm", s.confirmRun)
			r.Post("/generate", s.generateRun)
			r.Get("/export", s.exportRun)

			r.Get("/session", s.getSession)
			r.Get("/question", s.nextQuestion)
			r.Post("/answers", s.submitAnswer)
		})
	})

	return r
}

func (s *apiServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		RawText string `json:"raw_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RawText == "" {
		writeError(w, http.StatusBadRequest, "raw_text is required")
		return
	}

	run, err := s.env.Store.CreateRun(r.Context(), req.Name, req.RawText)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.env.Store.ListRuns(r.Context(), store.RunFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.env.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// processRun kicks off the automatic stages in the background; callers
// poll GET /runs/{id} for progress.
func (s *apiServer) processRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.env.Store.GetRun(r.Context(), runID); err != nil {
		writeDomainError(w, err)
		return
	}

	go func() {
		if _, err := s.env.Pipeline.Process(s.serverCtx, runID); err != nil {
			zap.L().Error("background processing failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": runID,
	})
}

func (s *apiServer) confirmRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.env.Pipeline.ConfirmBuildQuery(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// generateRun confirms nothing: the build query must already be
// confirmed and every clarification answered or skipped. Generation runs
// in the background like processRun.
func (s *apiServer) generateRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.env.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := run.ValidateForGeneration(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.env.Pipeline.EnsureClarificationsComplete(r.Context(), runID); err != nil {
		writeDomainError(w, err)
		return
	}

	go func() {
		if _, err := s.env.Pipeline.Generate(s.serverCtx, runID); err != nil {
			zap.L().Error("background generation failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": runID,
	})
}

func (s *apiServer) exportRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.env.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	if format != "md" {
		writeError(w, http.StatusBadRequest, "only format=md is served over HTTP; use the CLI for xlsx")
		return
	}

	doc, err := render.Markdown(render.Input{
		RunName:      run.Name,
		Result:       run.Response,
		Requirements: run.Requirements,
	})
	if err != nil {
		var renderErr *render.RenderError
		if eris.As(err, &renderErr) {
			writeError(w, http.StatusConflict, renderErr.Error())
			return
		}
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *apiServer) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.env.Pipeline.Sessions().GetOrCreateForRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) nextQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.env.Pipeline.NextQuestion(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if q == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *apiServer) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string `json:"question_id"`
		Text       string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "question_id is required")
		return
	}

	runID := chi.URLParam(r, "runID")
	if err := s.env.Pipeline.SubmitAnswer(r.Context(), runID, req.QuestionID, req.Text); err != nil {
		writeDomainError(w, err)
		return
	}

	sess, err := s.env.Store.GetSessionByRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps store and session sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case eris.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case eris.Is(err, session.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, "question not found")
	case eris.Is(err, session.ErrAlreadyAnswered):
		writeError(w, http.StatusConflict, "question already answered")
	case eris.Is(err, pipeline.ErrQuestionsPending):
		writeError(w, http.StatusConflict, "unanswered clarification questions remain")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
