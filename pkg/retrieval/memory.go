package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryRetriever is an in-memory Retriever with naive term-overlap
// scoring. Used in tests and when no index path is configured.
type MemoryRetriever struct {
	mu   sync.RWMutex
	docs []Document
}

// NewMemory creates an empty in-memory retriever.
func NewMemory() *MemoryRetriever {
	return &MemoryRetriever{}
}

func (r *MemoryRetriever) Add(_ context.Context, docs ...Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		replaced := false
		for i := range r.docs {
			if r.docs[i].ID == doc.ID {
				r.docs[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			r.docs = append(r.docs, doc)
		}
	}
	return nil
}

func (r *MemoryRetriever) Search(_ context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	terms := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(query)) {
		terms[strings.Trim(f, `"'.,;:!?()[]{}`)] = true
	}
	if len(terms) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Result
	for _, doc := range r.docs {
		text := strings.ToLower(doc.Title + " " + doc.Content)
		var hits int
		for term := range terms {
			if term != "" && strings.Contains(text, term) {
				hits++
			}
		}
		if hits > 0 {
			results = append(results, Result{
				Document: doc,
				Score:    float64(hits) / float64(len(terms)),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *MemoryRetriever) Close() error {
	return nil
}
