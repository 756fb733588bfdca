package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// SchemaValidationError reports a response that parsed as JSON but did not
// satisfy the expected shape. Callers can distinguish it from transport
// errors to decide whether a reprompt is worthwhile.
type SchemaValidationError struct {
	Detail string
	Raw    string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("llm: response failed schema validation: %s", e.Detail)
}

// NewSchemaValidationError constructs a SchemaValidationError carrying the
// raw response text for logging.
func NewSchemaValidationError(detail, raw string) *SchemaValidationError {
	return &SchemaValidationError{Detail: detail, Raw: raw}
}

// CompleteJSON sends req and unmarshals the response text into out.
// Markdown code fences around the JSON are tolerated. A response that is
// not valid JSON yields a SchemaValidationError.
func CompleteJSON(ctx context.Context, client Client, req Request, out any) (*Response, error) {
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "llm: complete json")
	}

	cleaned := CleanJSON(resp.Text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return resp, NewSchemaValidationError(err.Error(), resp.Text)
	}
	return resp, nil
}

// CleanJSON strips markdown code fences and surrounding prose from a model
// response so the JSON payload can be unmarshaled. It returns the substring
// between the first '{' or '[' and the matching last '}' or ']'.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	start := objStart
	end := strings.LastIndex(s, "}")
	if objStart < 0 || (arrStart >= 0 && arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(s, "]")
	}
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
