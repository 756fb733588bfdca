package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

func structuredRun() *model.Run {
	run := generationRun()
	run.Structure = &model.StructureDetectionResult{
		HasExplicitStructure: true,
		StructureType:        model.StructureExplicit,
		DetectedSections:     []string{"Executive Summary", "Technical Approach", "Pricing"},
		StructureDescription: "Three mandated chapters in order.",
		Confidence:           0.9,
	}
	return run
}

func TestStructuredGenerationAlignsSections(t *testing.T) {
	// Model returns sections out of order, skips one, and invents one.
	client := &mockLLMClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(textResponse(`{
		"sections": [
			{"name": "Technical Approach", "content": "We build it properly."},
			{"name": "Appendix Z", "content": "Invented section."},
			{"name": "executive summary", "content": "We understand the need."}
		]
	}`), nil)

	env := generationEnv{
		client:    client,
		anthropic: testAnthropicConfig(),
		pipeline:  testPipelineConfig(),
	}

	result, err := StructuredGeneration(context.Background(), env, structuredRun())
	require.NoError(t, err)

	assert.Equal(t, model.ModeStructured, result.Mode)
	require.Len(t, result.Responses, 3)

	// Detected order wins; name matching is case-insensitive.
	assert.Equal(t, "Executive Summary", result.Responses[0].RequirementID)
	assert.Equal(t, "We understand the need.", result.Responses[0].Response)
	assert.Equal(t, "Technical Approach", result.Responses[1].RequirementID)
	assert.Equal(t, "We build it properly.", result.Responses[1].Response)

	// A skipped section survives as an empty placeholder.
	assert.Equal(t, "Pricing", result.Responses[2].RequirementID)
	assert.Empty(t, result.Responses[2].Response)
	assert.Equal(t, "section not generated", result.Responses[2].Notes)
	assert.Contains(t, result.Notes, "1 of 3")

	// Invented sections are dropped entirely.
	for _, r := range result.Responses {
		assert.NotEqual(t, "Appendix Z", r.RequirementID)
	}
}

func TestStructuredGenerationWholeOperationFailure(t *testing.T) {
	client := &mockLLMClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(nil, eris.New("model down"))

	env := generationEnv{
		client:    client,
		anthropic: testAnthropicConfig(),
		pipeline:  testPipelineConfig(),
	}

	_, err := StructuredGeneration(context.Background(), env, structuredRun())
	require.Error(t, err)
}

func TestStructuredGenerationRequiresExplicitStructure(t *testing.T) {
	client := &mockLLMClient{}
	env := generationEnv{client: client, anthropic: testAnthropicConfig(), pipeline: testPipelineConfig()}

	run := generationRun() // no structure at all
	_, err := StructuredGeneration(context.Background(), env, run)
	require.Error(t, err)

	run.Structure = &model.StructureDetectionResult{HasExplicitStructure: false}
	_, err = StructuredGeneration(context.Background(), env, run)
	require.Error(t, err)
	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRouteAndGenerateRoutesByConfidence(t *testing.T) {
	t.Run("structured route", func(t *testing.T) {
		client := &mockLLMClient{}
		client.On("Complete", mock.Anything, mock.Anything).Return(textResponse(`{
			"sections": [
				{"name": "Executive Summary", "content": "a"},
				{"name": "Technical Approach", "content": "b"},
				{"name": "Pricing", "content": "c"}
			]
		}`), nil)
		env := generationEnv{client: client, anthropic: testAnthropicConfig(), pipeline: testPipelineConfig()}

		result, err := RouteAndGenerate(context.Background(), env, structuredRun())
		require.NoError(t, err)
		assert.Equal(t, model.ModeStructured, result.Mode)
		client.AssertNumberOfCalls(t, "Complete", 1)
	})

	t.Run("per-requirement route below threshold", func(t *testing.T) {
		client := &funcLLMClient{fn: func(req llm.Request) (*llm.Response, error) {
			return textResponse("answer"), nil
		}}
		env := generationEnv{client: client, anthropic: testAnthropicConfig(), pipeline: testPipelineConfig()}

		run := structuredRun()
		run.Structure.Confidence = 0.4

		result, err := RouteAndGenerate(context.Background(), env, run)
		require.NoError(t, err)
		assert.Equal(t, model.ModePerRequirement, result.Mode)
		assert.Len(t, result.Responses, len(run.Requirements.SolutionRequirements))
	})
}
