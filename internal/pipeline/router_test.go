package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionaix/rfp-cli/internal/config"
	"github.com/fusionaix/rfp-cli/internal/model"
)

func TestShouldUseStructured(t *testing.T) {
	tests := []struct {
		name      string
		structure *model.StructureDetectionResult
		threshold float64
		want      bool
	}{
		{
			name:      "nil structure",
			structure: nil,
			threshold: 0.6,
			want:      false,
		},
		{
			name:      "explicit above threshold",
			structure: &model.StructureDetectionResult{HasExplicitStructure: true, Confidence: 0.9},
			threshold: 0.6,
			want:      true,
		},
		{
			name:      "explicit exactly at threshold",
			structure: &model.StructureDetectionResult{HasExplicitStructure: true, Confidence: 0.6},
			threshold: 0.6,
			want:      true,
		},
		{
			name:      "explicit just below threshold",
			structure: &model.StructureDetectionResult{HasExplicitStructure: true, Confidence: 0.59},
			threshold: 0.6,
			want:      false,
		},
		{
			name:      "not explicit despite high confidence",
			structure: &model.StructureDetectionResult{HasExplicitStructure: false, Confidence: 0.95},
			threshold: 0.6,
			want:      false,
		},
		{
			name:      "custom threshold honored",
			structure: &model.StructureDetectionResult{HasExplicitStructure: true, Confidence: 0.7},
			threshold: 0.8,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldUseStructured(tt.structure, tt.threshold))
		})
	}
}

func TestRouteAndGeneratePreconditions(t *testing.T) {
	client := &mockLLMClient{}
	env := generationEnv{
		client:    client,
		anthropic: testAnthropicConfig(),
		pipeline:  config.PipelineConfig{StructureConfidenceThreshold: 0.6, GenerationConcurrency: 2},
	}

	t.Run("missing requirements", func(t *testing.T) {
		run := &model.Run{ID: "r1", RawText: "text"}
		_, err := RouteAndGenerate(context.Background(), env, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requirements")
	})

	t.Run("unconfirmed build query", func(t *testing.T) {
		run := &model.Run{
			ID:           "r1",
			RawText:      "text",
			Requirements: sampleRequirements(),
			BuildQuery:   &model.BuildQuery{QueryText: "q", Confirmed: false},
		}
		_, err := RouteAndGenerate(context.Background(), env, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confirmed")
	})

	t.Run("missing build query", func(t *testing.T) {
		run := &model.Run{ID: "r1", RawText: "text", Requirements: sampleRequirements()}
		_, err := RouteAndGenerate(context.Background(), env, run)
		require.Error(t, err)
	})
}
