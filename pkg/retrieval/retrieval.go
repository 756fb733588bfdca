// Package retrieval indexes past proposal material and serves keyword
// search over it, supplying supporting context for response generation.
package retrieval

import "context"

// Document is a reference document stored in the index.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is a scored search hit.
type Result struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Retriever indexes reference documents and retrieves the most relevant
// ones for a query. Implementations must be safe for concurrent use.
type Retriever interface {
	Add(ctx context.Context, docs ...Document) error
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Close() error
}
