package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// ShouldUseStructured applies the routing rule for generation mode: an
// explicitly detected structure whose confidence meets the configured
// threshold routes to structured mode. The boundary is inclusive, so a
// confidence exactly at the threshold still counts.
func ShouldUseStructured(structure *model.StructureDetectionResult, threshold float64) bool {
	if structure == nil {
		return false
	}
	return structure.HasExplicitStructure && structure.Confidence >= threshold
}

// RouteAndGenerate validates the run's generation preconditions, picks the
// generation mode, and produces the response result. It does not persist
// anything; the caller commits the artifact through the store.
func RouteAndGenerate(ctx context.Context, env generationEnv, run *model.Run) (*model.ResponseResult, error) {
	if err := run.ValidateForGeneration(); err != nil {
		return nil, eris.Wrap(err, "pipeline: generation preconditions")
	}

	threshold := env.pipeline.StructureConfidenceThreshold
	structured := ShouldUseStructured(run.Structure, threshold)

	zap.L().Info("pipeline: routing generation",
		zap.String("run_id", run.ID),
		zap.Bool("structured", structured),
		zap.Float64("threshold", threshold),
	)

	if structured {
		return StructuredGeneration(ctx, env, run)
	}
	return PerRequirementGeneration(ctx, env, run)
}
