package textract

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Plain reads text files verbatim.
type Plain struct{}

// NewPlain creates a plain-text extractor.
func NewPlain() *Plain {
	return &Plain{}
}

// ExtractText reads the file and returns its content. Files that are not
// valid UTF-8 are rejected rather than passed to the pipeline as garbage.
func (p *Plain) ExtractText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "textract: read %s", path)
	}
	if !utf8.Valid(data) {
		return "", &ExtractionError{Path: path, Reason: "not valid UTF-8 text"}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &ExtractionError{Path: path, Reason: "file is empty"}
	}
	return text, nil
}
