// Package pipeline implements the staged RFP processing flow: extraction,
// scoping, requirements analysis, structure detection, build query assembly,
// gap analysis, and response generation.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/kb"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
	"github.com/fusionaix/rfp-cli/internal/store"
	"github.com/fusionaix/rfp-cli/pkg/llm"
	"github.com/fusionaix/rfp-cli/pkg/retrieval"
)

// ErrQuestionsPending signals that generation was requested while the
// run's session still holds unanswered clarification questions.
var ErrQuestionsPending = eris.New("pipeline: unanswered clarification questions remain")

// Pipeline orchestrates the RFP processing stages over a persisted run.
// All run mutations go through a per-run lock so concurrent stage commits
// and enrichments cannot interleave their read-modify-write cycles.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	client    llm.Client
	retriever retrieval.Retriever
	companyKB *kb.CompanyKB
	sessions  *session.Manager
	gaps      *GapAnalyzer

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

// New creates a Pipeline with all dependencies. The retriever may be nil
// when no reference corpus is configured.
func New(cfg *config.Config, st store.Store, client llm.Client, retriever retrieval.Retriever, companyKB *kb.CompanyKB) *Pipeline {
	if companyKB == nil {
		companyKB = kb.New(kb.Profile{})
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		client:    client,
		retriever: retriever,
		companyKB: companyKB,
		sessions:  session.NewManager(st),
		gaps:      NewGapAnalyzer(client, cfg.Anthropic, cfg.Pipeline, cfg.Retrieval, companyKB, retriever),
		runLocks:  make(map[string]*sync.Mutex),
	}
}

// runLock returns the mutex serializing mutations to one run, creating it
// on first use.
func (p *Pipeline) runLock(runID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		p.runLocks[runID] = lock
	}
	return lock
}

// Sessions exposes the session manager for the CLI and HTTP surfaces.
func (p *Pipeline) Sessions() *session.Manager {
	return p.sessions
}

// Process runs a new run through every automatic stage: extraction, scope,
// requirements with structure detection, and build query assembly. The run
// then waits for clarification and confirmation before generation.
func (p *Pipeline) Process(ctx context.Context, runID string) (*model.Run, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: processing starting")

	p.setStatus(ctx, run.ID, model.RunStatusRunning)

	// Stage timing helper.
	trackStage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		duration := time.Since(start).Milliseconds()
		if err != nil {
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", duration),
				zap.Error(err),
			)
			return err
		}
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
		)
		return nil
	}

	err = trackStage("extraction", func() error {
		extraction, stageErr := ExtractStage(ctx, p.client, p.cfg.Anthropic, run.RawText)
		if stageErr != nil {
			return stageErr
		}
		return p.commitStage(ctx, run, model.StageExtraction, extraction)
	})
	if err != nil {
		p.setStatus(ctx, run.ID, model.RunStatusFailed)
		return run, err
	}

	err = trackStage("scope", func() error {
		scope, stageErr := ScopeStage(ctx, p.client, p.cfg.Anthropic, run.RawText)
		if stageErr != nil {
			return stageErr
		}
		return p.commitStage(ctx, run, model.StageScope, scope)
	})
	if err != nil {
		p.setStatus(ctx, run.ID, model.RunStatusFailed)
		return run, err
	}

	err = trackStage("requirements", func() error {
		requirements, stageErr := RequirementsStage(ctx, p.client, p.cfg.Anthropic, run.Scope.EssentialText, run.Extraction)
		if stageErr != nil {
			return stageErr
		}
		requirements.StructureDetection = DetectStructure(ctx, p.client, p.cfg.Anthropic, requirements.ResponseStructureRequirements)
		return p.commitStage(ctx, run, model.StageRequirements, requirements)
	})
	if err != nil {
		p.setStatus(ctx, run.ID, model.RunStatusFailed)
		return run, err
	}

	err = trackStage("build_query", func() error {
		bq, stageErr := BuildQueryStage(run.Extraction, run.Requirements)
		if stageErr != nil {
			return stageErr
		}
		return p.commitStage(ctx, run, model.StageBuildQuery, bq)
	})
	if err != nil {
		p.setStatus(ctx, run.ID, model.RunStatusFailed)
		return run, err
	}

	p.setStatus(ctx, run.ID, model.RunStatusAwaiting)
	run.Status = model.RunStatusAwaiting

	log.Info("pipeline: processing complete, awaiting confirmation",
		zap.Int("solution_requirements", len(run.Requirements.SolutionRequirements)),
		zap.Int("structure_requirements", len(run.Requirements.ResponseStructureRequirements)),
	)
	return run, nil
}

// NextQuestion advances the clarification flow for a run, appending any
// newly generated question to the run's session. Returns nil when gap
// analysis finds nothing left to ask.
func (p *Pipeline) NextQuestion(ctx context.Context, runID string) (*model.Question, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}

	sess, err := p.sessions.GetOrCreateForRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: session for run")
	}

	q, err := p.gaps.NextQuestion(ctx, run, sess)
	if err != nil || q == nil {
		return nil, err
	}

	// A question without an ID is fresh from gap analysis and must land on
	// the session before being surfaced.
	if q.ID == "" {
		return p.sessions.AddQuestion(ctx, sess.ID, *q)
	}
	return q, nil
}

// SubmitAnswer records an answer (empty text = skip) and re-enriches the
// run's build query with the full answered Q&A set. The enrichment runs
// under the run lock over a fresh session snapshot, so concurrent answers
// always converge on the complete answer set.
func (p *Pipeline) SubmitAnswer(ctx context.Context, runID, questionID, text string) error {
	sess, err := p.sessions.GetOrCreateForRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: session for run")
	}

	if _, err := p.sessions.SubmitAnswer(ctx, sess.ID, questionID, text); err != nil {
		return err
	}

	lock := p.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load run")
	}
	if run.BuildQuery == nil {
		return nil
	}

	fresh, err := p.store.GetSessionByRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load session")
	}

	run.BuildQuery = EnrichBuildQuery(run.BuildQuery, fresh.QAContext())
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return eris.Wrap(err, "pipeline: persist enriched build query")
	}
	return nil
}

// EnsureClarificationsComplete returns ErrQuestionsPending while the run's
// session still holds unanswered questions. A run without a session has
// nothing pending. Callers enforce this before generation; the router
// itself does not.
func (p *Pipeline) EnsureClarificationsComplete(ctx context.Context, runID string) error {
	sess, err := p.store.GetSessionByRun(ctx, runID)
	if err != nil {
		if eris.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return eris.Wrap(err, "pipeline: load session")
	}
	if n := len(sess.Pending()); n > 0 {
		return eris.Wrapf(ErrQuestionsPending, "%d question(s) pending", n)
	}
	return nil
}

// ConfirmBuildQuery marks the run's build query as reviewed and confirmed.
// Confirmation is a flag flip, not a stage write: it must not invalidate
// anything downstream.
func (p *Pipeline) ConfirmBuildQuery(ctx context.Context, runID string) (*model.Run, error) {
	lock := p.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	if run.BuildQuery == nil {
		return nil, eris.New("pipeline: run has no build query to confirm")
	}
	if run.BuildQuery.Confirmed {
		return run, nil
	}

	run.BuildQuery.Confirmed = true
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist confirmation")
	}
	zap.L().Info("pipeline: build query confirmed", zap.String("run_id", runID))
	return run, nil
}

// Generate routes the confirmed run into structured or per-requirement
// generation and persists the result.
func (p *Pipeline) Generate(ctx context.Context, runID string) (*model.Run, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}

	var qaContext string
	if sess, sessErr := p.store.GetSessionByRun(ctx, runID); sessErr == nil {
		qaContext = sess.QAContext()
	}

	env := generationEnv{
		client:    p.client,
		anthropic: p.cfg.Anthropic,
		pipeline:  p.cfg.Pipeline,
		retriever: p.retriever,
		kbContext: p.companyKB.FormatForPrompt(),
		qaContext: qaContext,
	}

	p.setStatus(ctx, run.ID, model.RunStatusRunning)

	result, err := RouteAndGenerate(ctx, env, run)
	if err != nil {
		p.setStatus(ctx, run.ID, model.RunStatusFailed)
		return run, err
	}

	if err := p.commitStage(ctx, run, model.StageResponse, result); err != nil {
		p.setStatus(ctx, run.ID, model.RunStatusFailed)
		return run, err
	}

	p.setStatus(ctx, run.ID, model.RunStatusCompleted)
	run.Status = model.RunStatusCompleted

	zap.L().Info("pipeline: generation complete",
		zap.String("run_id", run.ID),
		zap.String("mode", result.Mode),
		zap.Int("responses", len(result.Responses)),
		zap.Int("failed", result.FailedCount),
	)
	return run, nil
}

// commitStage applies the artifact to the run (cascading invalidation
// included) and persists the whole run, serialized per run so concurrent
// commits cannot interleave. Nothing is written on a cancelled context,
// so a stage either commits fully or not at all.
func (p *Pipeline) commitStage(ctx context.Context, run *model.Run, stage model.Stage, artifact any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := p.runLock(run.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := run.SetStage(stage, artifact); err != nil {
		return eris.Wrapf(err, "pipeline: set stage %s", stage)
	}
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return eris.Wrapf(err, "pipeline: persist stage %s", stage)
	}
	return nil
}

func (p *Pipeline) setStatus(ctx context.Context, runID, status string) {
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("pipeline: failed to update run status",
			zap.String("run_id", runID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
