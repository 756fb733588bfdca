package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullRun(t *testing.T) *Run {
	t.Helper()
	r := &Run{ID: "run-1", Status: RunStatusRunning}
	require.NoError(t, r.SetStage(StageRawText, "RFP body text"))
	require.NoError(t, r.SetStage(StageExtraction, &ExtractionResult{Language: "en"}))
	require.NoError(t, r.SetStage(StageScope, &ScopeResult{EssentialText: "essential"}))
	require.NoError(t, r.SetStage(StageRequirements, &RequirementsResult{
		SolutionRequirements: []RequirementItem{
			{ID: "REQ-1", Type: RequirementMandatory, SourceText: "must do X", NormalizedText: "do X"},
		},
		StructureDetection: &StructureDetectionResult{StructureType: StructureNone, Confidence: 0.9},
	}))
	require.NoError(t, r.SetStage(StageBuildQuery, &BuildQuery{QueryText: "query", Confirmed: true}))
	require.NoError(t, r.SetStage(StageResponse, &ResponseResult{Mode: ModePerRequirement}))
	return r
}

func TestSetStageInvalidatesDownstream(t *testing.T) {
	tests := []struct {
		name    string
		stage   Stage
		art     any
		cleared []Stage
		kept    []Stage
	}{
		{
			name:    "rewrite raw text clears everything",
			stage:   StageRawText,
			art:     "new text",
			cleared: []Stage{StageExtraction, StageScope, StageRequirements, StageBuildQuery, StageResponse},
			kept:    []Stage{StageRawText},
		},
		{
			name:    "rewrite scope clears requirements onward",
			stage:   StageScope,
			art:     &ScopeResult{EssentialText: "rescoped"},
			cleared: []Stage{StageRequirements, StageBuildQuery, StageResponse},
			kept:    []Stage{StageRawText, StageExtraction, StageScope},
		},
		{
			name:    "rewrite requirements clears build query and response",
			stage:   StageRequirements,
			art:     &RequirementsResult{SolutionRequirements: []RequirementItem{{ID: "REQ-2", Type: RequirementOptional, SourceText: "x"}}},
			cleared: []Stage{StageBuildQuery, StageResponse},
			kept:    []Stage{StageRawText, StageExtraction, StageScope, StageRequirements},
		},
		{
			name:    "rewrite build query clears only response",
			stage:   StageBuildQuery,
			art:     &BuildQuery{QueryText: "q2"},
			cleared: []Stage{StageResponse},
			kept:    []Stage{StageRawText, StageExtraction, StageScope, StageRequirements, StageBuildQuery},
		},
		{
			name:    "rewrite response clears nothing else",
			stage:   StageResponse,
			art:     &ResponseResult{Mode: ModeStructured},
			cleared: nil,
			kept:    Stages(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fullRun(t)
			require.NoError(t, r.SetStage(tt.stage, tt.art))
			for _, s := range tt.cleared {
				assert.False(t, r.HasStage(s), "stage %s should be cleared", s)
			}
			for _, s := range tt.kept {
				assert.True(t, r.HasStage(s), "stage %s should survive", s)
			}
		})
	}
}

func TestSetStageClearsConfirmation(t *testing.T) {
	r := fullRun(t)
	require.True(t, r.BuildQuery.Confirmed)

	// Re-running requirements drops the confirmed build query entirely.
	require.NoError(t, r.SetStage(StageRequirements, &RequirementsResult{
		SolutionRequirements: []RequirementItem{{ID: "REQ-9", Type: RequirementMandatory, SourceText: "y"}},
	}))
	assert.Nil(t, r.BuildQuery)
	assert.Error(t, r.ValidateForGeneration())
}

func TestSetStageRejectsWrongType(t *testing.T) {
	r := &Run{ID: "run-2"}
	err := r.SetStage(StageExtraction, &ScopeResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects *ExtractionResult")

	err = r.SetStage(Stage("bogus"), "x")
	require.Error(t, err)
}

func TestSetStageRequirementsCarriesStructure(t *testing.T) {
	r := &Run{ID: "run-3"}
	det := &StructureDetectionResult{HasExplicitStructure: true, StructureType: StructureExplicit, DetectedSections: []string{"A"}, Confidence: 0.8}
	require.NoError(t, r.SetStage(StageRequirements, &RequirementsResult{
		SolutionRequirements: []RequirementItem{{ID: "REQ-1", Type: RequirementMandatory, SourceText: "x"}},
		StructureDetection:   det,
	}))
	assert.Equal(t, det, r.Structure)
}

func TestCurrentStage(t *testing.T) {
	r := &Run{ID: "run-4"}
	assert.Equal(t, Stage(""), r.CurrentStage())

	require.NoError(t, r.SetStage(StageRawText, "text"))
	assert.Equal(t, StageRawText, r.CurrentStage())

	require.NoError(t, r.SetStage(StageExtraction, &ExtractionResult{}))
	assert.Equal(t, StageExtraction, r.CurrentStage())
}

func TestValidateForGeneration(t *testing.T) {
	r := fullRun(t)
	assert.NoError(t, r.ValidateForGeneration())

	r.BuildQuery.Confirmed = false
	err := r.ValidateForGeneration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not been confirmed")

	r.BuildQuery = nil
	assert.Error(t, r.ValidateForGeneration())

	r.Requirements = nil
	assert.Error(t, r.ValidateForGeneration())
}
