package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocs() []Document {
	return []Document{
		{Title: "SSO case study", Content: "We delivered single sign-on integration with SAML and OIDC for a municipal client.", Metadata: map[string]string{"year": "2024"}},
		{Title: "Data migration playbook", Content: "Approach for migrating legacy records into a new case management platform."},
		{Title: "Accessibility statement", Content: "Our deliverables conform to WCAG 2.1 AA accessibility guidelines."},
	}
}

func TestSQLiteRetrieverSearch(t *testing.T) {
	r, err := NewSQLite(filepath.Join(t.TempDir(), "ref.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	ctx := context.Background()
	require.NoError(t, r.Add(ctx, seedDocs()...))

	results, err := r.Search(ctx, "single sign-on integration", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "SSO case study", results[0].Document.Title)
	assert.Equal(t, "2024", results[0].Document.Metadata["year"])

	// Punctuation-heavy queries must not break FTS syntax.
	_, err = r.Search(ctx, `the vendor "shall" provide (at minimum): 99.9% uptime!`, 5)
	assert.NoError(t, err)
}

func TestSQLiteRetrieverEmptyQuery(t *testing.T) {
	r, err := NewSQLite(filepath.Join(t.TempDir(), "ref.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	results, err := r.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteRetrieverLimit(t *testing.T) {
	r, err := NewSQLite(filepath.Join(t.TempDir(), "ref.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Add(ctx, Document{Title: "doc", Content: "shared keyword platform"}))
	}

	results, err := r.Search(ctx, "platform", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMemoryRetrieverSearch(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, seedDocs()...))

	results, err := r.Search(ctx, "WCAG accessibility", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Accessibility statement", results[0].Document.Title)

	results, err = r.Search(ctx, "quantum blockchain", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryRetrieverAssignsIDs(t *testing.T) {
	r := NewMemory()
	require.NoError(t, r.Add(context.Background(), Document{Title: "t", Content: "c"}))

	results, err := r.Search(context.Background(), "c", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Document.ID)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"single" OR "sign-on"`, ftsQuery(`single sign-on`))
	assert.Equal(t, `"uptime"`, ftsQuery(`(uptime)!`))
	assert.Equal(t, "", ftsQuery("  "))
}
