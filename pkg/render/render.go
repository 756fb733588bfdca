// Package render turns a generated response collection into deliverable
// documents: a markdown proposal and an XLSX requirements traceability
// matrix.
package render

import (
	"fmt"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// RenderError reports a response collection that cannot be rendered.
type RenderError struct {
	Format string
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render: %s: %s", e.Format, e.Reason)
}

// Input bundles everything the renderers need about a run.
type Input struct {
	RunName      string
	Result       *model.ResponseResult
	Requirements *model.RequirementsResult
}

func (in Input) validate(format string) error {
	if in.Result == nil {
		return &RenderError{Format: format, Reason: "no response result"}
	}
	if len(in.Result.Responses) == 0 {
		return &RenderError{Format: format, Reason: "response result has no entries"}
	}
	return nil
}
