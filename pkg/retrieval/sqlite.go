package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteRetriever implements Retriever over a SQLite FTS5 index.
type SQLiteRetriever struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the FTS index at the given path.
func NewSQLite(dsn string) (*SQLiteRetriever, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "retrieval: exec %s", pragma)
		}
	}

	const migration = `
CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
	id UNINDEXED,
	title,
	content,
	metadata UNINDEXED
);
`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "retrieval: migrate")
	}

	return &SQLiteRetriever{db: db}, nil
}

func (r *SQLiteRetriever) Add(ctx context.Context, docs ...Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "retrieval: begin tx")
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		metaJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return eris.Wrap(err, "retrieval: marshal metadata")
		}
		// Re-adding a document replaces it, so corpus indexing is idempotent.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE id = ?`, doc.ID,
		); err != nil {
			return eris.Wrapf(err, "retrieval: delete stale document %s", doc.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, title, content, metadata) VALUES (?, ?, ?, ?)`,
			doc.ID, doc.Title, doc.Content, string(metaJSON),
		); err != nil {
			return eris.Wrapf(err, "retrieval: insert document %s", doc.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "retrieval: commit")
}

func (r *SQLiteRetriever) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, content, metadata, bm25(documents) AS rank
		 FROM documents WHERE documents MATCH ? ORDER BY rank LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: search")
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var doc Document
		var metaJSON sql.NullString
		var rank float64
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &metaJSON, &rank); err != nil {
			return nil, eris.Wrap(err, "retrieval: scan result")
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
				return nil, eris.Wrap(err, "retrieval: unmarshal metadata")
			}
		}
		// bm25 returns lower-is-better; negate so callers see higher-is-better.
		results = append(results, Result{Document: doc, Score: -rank})
	}
	return results, eris.Wrap(rows.Err(), "retrieval: iterate results")
}

func (r *SQLiteRetriever) Close() error {
	return r.db.Close()
}

// ftsQuery converts free text into an FTS5 OR query of quoted terms, so
// punctuation in requirement text cannot break the match syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'.,;:!?()[]{}`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, "")+`"`)
	}
	return strings.Join(terms, " OR ")
}
