package model

import (
	"fmt"
	"strings"
)

// ExtractionResult holds the metadata extracted from the raw RFP text.
type ExtractionResult struct {
	Language               string         `json:"language"`
	CPVCodes               []string       `json:"cpv_codes"`
	OtherCodes             []string       `json:"other_codes"`
	KeyRequirementsSummary string         `json:"key_requirements_summary"`
	RawStructured          map[string]any `json:"raw_structured,omitempty"`
}

// ScopeResult holds the scoping stage output: the essential RFP text with
// boilerplate removed, plus what was removed and why.
type ScopeResult struct {
	EssentialText string `json:"essential_text"`
	RemovedText   string `json:"removed_text"`
	Rationale     string `json:"rationale"`
}

// Requirement types as classified by the requirements stage.
const (
	RequirementMandatory   = "mandatory"
	RequirementOptional    = "optional"
	RequirementUnspecified = "unspecified"
)

// RequirementItem is a single requirement extracted from the RFP.
type RequirementItem struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	SourceText     string `json:"source_text"`
	NormalizedText string `json:"normalized_text"`
	Category       string `json:"category"`
}

// RequirementsResult holds all requirements extracted from an RFP, split
// into solution requirements (what the buyer wants) and response structure
// requirements (how the response must be formatted).
type RequirementsResult struct {
	SolutionRequirements          []RequirementItem         `json:"solution_requirements"`
	ResponseStructureRequirements []RequirementItem         `json:"response_structure_requirements"`
	Notes                         string                    `json:"notes,omitempty"`
	StructureDetection            *StructureDetectionResult `json:"structure_detection,omitempty"`
}

// Validate checks the invariants downstream stages rely on: unique IDs,
// non-empty source text, and known requirement types. Returns all problems
// found, not just the first.
func (r *RequirementsResult) Validate() []string {
	var errs []string

	if len(r.SolutionRequirements) == 0 {
		errs = append(errs, "no solution requirements found")
		return errs
	}

	seen := make(map[string]bool)
	for i, req := range r.SolutionRequirements {
		if strings.TrimSpace(req.ID) == "" {
			errs = append(errs, fmt.Sprintf("solution requirement %d missing ID", i+1))
			continue
		}
		if seen[req.ID] {
			errs = append(errs, fmt.Sprintf("duplicate solution requirement ID: %s", req.ID))
		}
		seen[req.ID] = true
		if strings.TrimSpace(req.SourceText) == "" {
			errs = append(errs, fmt.Sprintf("solution requirement %s missing source text", req.ID))
		}
		switch req.Type {
		case RequirementMandatory, RequirementOptional, RequirementUnspecified:
		default:
			errs = append(errs, fmt.Sprintf("solution requirement %s has invalid type: %q", req.ID, req.Type))
		}
	}

	structSeen := make(map[string]bool)
	for i, req := range r.ResponseStructureRequirements {
		if strings.TrimSpace(req.ID) == "" {
			errs = append(errs, fmt.Sprintf("response structure requirement %d missing ID", i+1))
			continue
		}
		if structSeen[req.ID] {
			errs = append(errs, fmt.Sprintf("duplicate response structure requirement ID: %s", req.ID))
		}
		structSeen[req.ID] = true
		if strings.TrimSpace(req.SourceText) == "" {
			errs = append(errs, fmt.Sprintf("response structure requirement %s missing source text", req.ID))
		}
	}

	return errs
}

// RequirementByID returns the solution requirement with the given ID.
func (r *RequirementsResult) RequirementByID(id string) (RequirementItem, bool) {
	for _, req := range r.SolutionRequirements {
		if req.ID == id {
			return req, true
		}
	}
	return RequirementItem{}, false
}

// Structure types reported by structure detection.
const (
	StructureExplicit = "explicit"
	StructureImplicit = "implicit"
	StructureNone     = "none"
)

// StructureDetectionResult classifies whether the RFP mandates an explicit
// response document structure.
type StructureDetectionResult struct {
	HasExplicitStructure bool     `json:"has_explicit_structure"`
	StructureType        string   `json:"structure_type"`
	DetectedSections     []string `json:"detected_sections"`
	StructureDescription string   `json:"structure_description"`
	Confidence           float64  `json:"confidence"`
}

// Normalize reconciles the result with its invariants: confidence clamped
// to [0,1], sections deduplicated order-preserving, and the explicit flag
// consistent with the structure type. HasExplicitStructure wins over a
// conflicting type; a non-explicit result keeps no sections.
func (s *StructureDetectionResult) Normalize() {
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}

	switch s.StructureType {
	case StructureExplicit, StructureImplicit, StructureNone:
	default:
		s.StructureType = StructureNone
	}

	if s.HasExplicitStructure && s.StructureType != StructureExplicit {
		s.StructureType = StructureExplicit
	}
	if !s.HasExplicitStructure && s.StructureType == StructureExplicit {
		if len(s.DetectedSections) > 0 {
			s.StructureType = StructureImplicit
		} else {
			s.StructureType = StructureNone
		}
	}

	if !s.HasExplicitStructure {
		s.DetectedSections = nil
		return
	}

	seen := make(map[string]bool, len(s.DetectedSections))
	deduped := s.DetectedSections[:0]
	for _, sec := range s.DetectedSections {
		sec = strings.TrimSpace(sec)
		if sec == "" || seen[sec] {
			continue
		}
		seen[sec] = true
		deduped = append(deduped, sec)
	}
	s.DetectedSections = deduped
}

// BuildQuery is the consolidated, human-reviewable artifact that seeds
// response generation.
type BuildQuery struct {
	QueryText                            string         `json:"query_text"`
	SolutionRequirementsSummary          string         `json:"solution_requirements_summary"`
	ResponseStructureRequirementsSummary string         `json:"response_structure_requirements_summary"`
	ExtractionData                       map[string]any `json:"extraction_data,omitempty"`
	Confirmed                            bool           `json:"confirmed"`
}

// Quality completeness and relevance levels.
const (
	CompletenessComplete   = "complete"
	CompletenessPartial    = "partial"
	CompletenessIncomplete = "incomplete"
	CompletenessUnknown    = "unknown"
)

// QualityAssessment is advisory metadata scoring how well a generated
// response addresses its requirement. Never a pass/fail gate.
type QualityAssessment struct {
	Score        float64  `json:"score"`
	Completeness string   `json:"completeness"`
	Relevance    string   `json:"relevance"`
	Issues       []string `json:"issues,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// IndividualResponse is one entry in the normalized response collection
// handed to the renderer. In per-requirement mode RequirementID references
// a solution requirement; in structured mode it carries the section name.
type IndividualResponse struct {
	RequirementID   string             `json:"requirement_id"`
	RequirementText string             `json:"requirement_text,omitempty"`
	KeyPhrase       string             `json:"key_phrase,omitempty"`
	Response        string             `json:"response"`
	Notes           string             `json:"notes,omitempty"`
	Quality         *QualityAssessment `json:"quality,omitempty"`
	Failed          bool               `json:"failed,omitempty"`
}

// Generation modes.
const (
	ModeStructured     = "structured"
	ModePerRequirement = "per_requirement"
)

// ResponseResult is the final generated artifact: an ordered collection of
// individual responses plus generation metadata.
type ResponseResult struct {
	Mode        string               `json:"mode"`
	Responses   []IndividualResponse `json:"responses"`
	FailedCount int                  `json:"failed_count"`
	Notes       string               `json:"notes,omitempty"`
}

// KeyPhrase returns the first n words of text with an ellipsis when
// truncated, used as a short label for a requirement.
func KeyPhrase(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
