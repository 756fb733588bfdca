// Package textract turns uploaded RFP documents into plain text for the
// pipeline. PDFs go through the pdftotext CLI; text files are read as-is.
package textract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Extractor extracts text content from a document file.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// ExtractionError reports a document the extractor could not process.
type ExtractionError struct {
	Path   string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("textract: %s: %s", e.Path, e.Reason)
}

// ForFile returns an extractor suited to the file's extension.
func ForFile(path, pdfToTextPath string) (Extractor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return NewPdfToText(pdfToTextPath), nil
	case ".txt", ".md", "":
		return NewPlain(), nil
	default:
		return nil, &ExtractionError{Path: path, Reason: "unsupported file type"}
	}
}
