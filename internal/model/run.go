package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Stage identifies a pipeline stage. Stages form a linear dependency chain:
// writing an artifact at one stage invalidates everything downstream of it.
type Stage string

const (
	StageRawText      Stage = "raw_text"
	StageExtraction   Stage = "extraction"
	StageScope        Stage = "scope"
	StageRequirements Stage = "requirements"
	StageBuildQuery   Stage = "build_query"
	StageResponse     Stage = "response"
)

// stageOrder positions each stage on the dependency chain.
var stageOrder = map[Stage]int{
	StageRawText:      0,
	StageExtraction:   1,
	StageScope:        2,
	StageRequirements: 3,
	StageBuildQuery:   4,
	StageResponse:     5,
}

// Stages lists all pipeline stages in dependency order.
func Stages() []Stage {
	return []Stage{StageRawText, StageExtraction, StageScope, StageRequirements, StageBuildQuery, StageResponse}
}

// Run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusAwaiting  = "awaiting_confirmation"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is a single processing run over one RFP document. It owns the
// artifact for every stage the pipeline has completed so far.
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RawText      string                    `json:"raw_text,omitempty"`
	Extraction   *ExtractionResult         `json:"extraction,omitempty"`
	Scope        *ScopeResult              `json:"scope,omitempty"`
	Requirements *RequirementsResult       `json:"requirements,omitempty"`
	Structure    *StructureDetectionResult `json:"structure,omitempty"`
	BuildQuery   *BuildQuery               `json:"build_query,omitempty"`
	Response     *ResponseResult           `json:"response,omitempty"`
}

// SetStage stores an artifact at the given stage and clears every artifact
// downstream of it. Re-running an earlier stage therefore always leaves the
// run without stale derived artifacts, and any confirmed build query is
// un-confirmed by losing the artifact entirely.
func (r *Run) SetStage(stage Stage, artifact any) error {
	pos, ok := stageOrder[stage]
	if !ok {
		return eris.Errorf("model: unknown stage %q", stage)
	}

	switch stage {
	case StageRawText:
		v, ok := artifact.(string)
		if !ok {
			return eris.Errorf("model: stage %s expects string, got %T", stage, artifact)
		}
		r.RawText = v
	case StageExtraction:
		v, ok := artifact.(*ExtractionResult)
		if !ok {
			return eris.Errorf("model: stage %s expects *ExtractionResult, got %T", stage, artifact)
		}
		r.Extraction = v
	case StageScope:
		v, ok := artifact.(*ScopeResult)
		if !ok {
			return eris.Errorf("model: stage %s expects *ScopeResult, got %T", stage, artifact)
		}
		r.Scope = v
	case StageRequirements:
		v, ok := artifact.(*RequirementsResult)
		if !ok {
			return eris.Errorf("model: stage %s expects *RequirementsResult, got %T", stage, artifact)
		}
		r.Requirements = v
		if v != nil {
			r.Structure = v.StructureDetection
		}
	case StageBuildQuery:
		v, ok := artifact.(*BuildQuery)
		if !ok {
			return eris.Errorf("model: stage %s expects *BuildQuery, got %T", stage, artifact)
		}
		r.BuildQuery = v
	case StageResponse:
		v, ok := artifact.(*ResponseResult)
		if !ok {
			return eris.Errorf("model: stage %s expects *ResponseResult, got %T", stage, artifact)
		}
		r.Response = v
	}

	r.invalidateAfter(pos)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// invalidateAfter clears artifacts at every stage strictly downstream of pos.
func (r *Run) invalidateAfter(pos int) {
	if pos < stageOrder[StageExtraction] {
		r.Extraction = nil
	}
	if pos < stageOrder[StageScope] {
		r.Scope = nil
	}
	if pos < stageOrder[StageRequirements] {
		r.Requirements = nil
		r.Structure = nil
	}
	if pos < stageOrder[StageBuildQuery] {
		r.BuildQuery = nil
	}
	if pos < stageOrder[StageResponse] {
		r.Response = nil
	}
}

// HasStage reports whether the run holds an artifact for the given stage.
func (r *Run) HasStage(stage Stage) bool {
	switch stage {
	case StageRawText:
		return r.RawText != ""
	case StageExtraction:
		return r.Extraction != nil
	case StageScope:
		return r.Scope != nil
	case StageRequirements:
		return r.Requirements != nil
	case StageBuildQuery:
		return r.BuildQuery != nil
	case StageResponse:
		return r.Response != nil
	}
	return false
}

// CurrentStage returns the furthest stage the run has an artifact for, or
// empty if the run has no raw text yet.
func (r *Run) CurrentStage() Stage {
	stages := Stages()
	for i := len(stages) - 1; i >= 0; i-- {
		if r.HasStage(stages[i]) {
			return stages[i]
		}
	}
	return ""
}

// ValidateForGeneration checks the preconditions for response generation:
// valid requirements and a confirmed build query.
func (r *Run) ValidateForGeneration() error {
	if r.Requirements == nil {
		return eris.New("model: run has no requirements artifact")
	}
	if errs := r.Requirements.Validate(); len(errs) > 0 {
		return eris.Errorf("model: requirements failed validation: %s", errs[0])
	}
	if r.BuildQuery == nil {
		return eris.New("model: run has no build query artifact")
	}
	if !r.BuildQuery.Confirmed {
		return eris.New("model: build query has not been confirmed")
	}
	return nil
}
