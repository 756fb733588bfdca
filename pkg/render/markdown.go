package render

import (
	"fmt"
	"strings"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// Markdown renders the response collection as a markdown proposal
// document. Structured results become one section per detected section;
// per-requirement results become one section per requirement, labeled
// with the requirement's key phrase.
func Markdown(in Input) (string, error) {
	if err := in.validate("markdown"); err != nil {
		return "", err
	}

	var sb strings.Builder
	title := in.RunName
	if title == "" {
		title = "Proposal Response"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	for _, resp := range in.Result.Responses {
		heading := sectionHeading(resp, in.Result.Mode)
		fmt.Fprintf(&sb, "## %s\n\n", heading)

		if resp.Failed {
			fmt.Fprintf(&sb, "> Generation failed for this item.\n\n")
		}
		sb.WriteString(strings.TrimSpace(resp.Response))
		sb.WriteString("\n\n")
	}

	if in.Result.FailedCount > 0 {
		fmt.Fprintf(&sb, "---\n\n%d of %d items could not be generated and are marked above.\n",
			in.Result.FailedCount, len(in.Result.Responses))
	}

	return sb.String(), nil
}

func sectionHeading(resp model.IndividualResponse, mode string) string {
	if mode == model.ModeStructured {
		// RequirementID carries the section name in structured mode.
		return resp.RequirementID
	}
	if resp.KeyPhrase != "" {
		return fmt.Sprintf("%s: %s", resp.RequirementID, resp.KeyPhrase)
	}
	return resp.RequirementID
}
