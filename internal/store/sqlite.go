package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	raw_text     TEXT NOT NULL DEFAULT '',
	extraction   TEXT,
	scope        TEXT,
	requirements TEXT,
	build_query  TEXT,
	response     TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL UNIQUE REFERENCES runs(id),
	questions  TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_sessions_run_id ON sessions(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, name, rawText string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, status, raw_text, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, model.RunStatusPending, rawText, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Name:      name,
		Status:    model.RunStatusPending,
		RawText:   rawText,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, raw_text, extraction, scope, requirements, build_query, response, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	cols, err := marshalArtifacts(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run artifacts")
	}
	run.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET name = ?, status = ?, raw_text = ?, extraction = ?, scope = ?, requirements = ?, build_query = ?, response = ?, updated_at = ?
		 WHERE id = ?`,
		run.Name, run.Status, run.RawText,
		cols.extraction, cols.scope, cols.requirements, cols.buildQuery, cols.response,
		run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, run.ID)
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, name, status, raw_text, extraction, scope, requirements, build_query, response, created_at, updated_at
	          FROM runs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	questionsJSON, err := json.Marshal(sess.Questions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal questions")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, run_id, questions, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.RunID, string(questionsJSON), sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, questions, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(session.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSessionByRun(ctx context.Context, runID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, questions, created_at, updated_at FROM sessions WHERE run_id = ?`, runID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(session.ErrSessionNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session for run %s", runID)
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	questionsJSON, err := json.Marshal(sess.Questions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal questions")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET questions = ?, updated_at = ? WHERE id = ?`,
		string(questionsJSON), time.Now().UTC(), sess.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", sess.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(session.ErrSessionNotFound, "session %s", sess.ID)
	}
	return nil
}

// --- row scanning helpers ---

type scanner interface {
	Scan(dest ...any) error
}

// artifactCols holds the JSON-serialized nullable artifact columns.
type artifactCols struct {
	extraction   sql.NullString
	scope        sql.NullString
	requirements sql.NullString
	buildQuery   sql.NullString
	response     sql.NullString
}

func marshalArtifacts(run *model.Run) (artifactCols, error) {
	var cols artifactCols
	set := func(dst *sql.NullString, v any, isNil bool) error {
		if isNil {
			return nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		dst.String = string(data)
		dst.Valid = true
		return nil
	}

	if err := set(&cols.extraction, run.Extraction, run.Extraction == nil); err != nil {
		return cols, err
	}
	if err := set(&cols.scope, run.Scope, run.Scope == nil); err != nil {
		return cols, err
	}
	if err := set(&cols.requirements, run.Requirements, run.Requirements == nil); err != nil {
		return cols, err
	}
	if err := set(&cols.buildQuery, run.BuildQuery, run.BuildQuery == nil); err != nil {
		return cols, err
	}
	if err := set(&cols.response, run.Response, run.Response == nil); err != nil {
		return cols, err
	}
	return cols, nil
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var cols artifactCols

	err := row.Scan(&run.ID, &run.Name, &run.Status, &run.RawText,
		&cols.extraction, &cols.scope, &cols.requirements, &cols.buildQuery, &cols.response,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if cols.extraction.Valid {
		run.Extraction = &model.ExtractionResult{}
		if err := json.Unmarshal([]byte(cols.extraction.String), run.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	if cols.scope.Valid {
		run.Scope = &model.ScopeResult{}
		if err := json.Unmarshal([]byte(cols.scope.String), run.Scope); err != nil {
			return nil, eris.Wrap(err, "unmarshal scope")
		}
	}
	if cols.requirements.Valid {
		run.Requirements = &model.RequirementsResult{}
		if err := json.Unmarshal([]byte(cols.requirements.String), run.Requirements); err != nil {
			return nil, eris.Wrap(err, "unmarshal requirements")
		}
		run.Structure = run.Requirements.StructureDetection
	}
	if cols.buildQuery.Valid {
		run.BuildQuery = &model.BuildQuery{}
		if err := json.Unmarshal([]byte(cols.buildQuery.String), run.BuildQuery); err != nil {
			return nil, eris.Wrap(err, "unmarshal build query")
		}
	}
	if cols.response.Valid {
		run.Response = &model.ResponseResult{}
		if err := json.Unmarshal([]byte(cols.response.String), run.Response); err != nil {
			return nil, eris.Wrap(err, "unmarshal response")
		}
	}
	return &run, nil
}

func scanSession(row scanner) (*session.Session, error) {
	var sess session.Session
	var questionsJSON string

	err := row.Scan(&sess.ID, &sess.RunID, &questionsJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(questionsJSON), &sess.Questions); err != nil {
		return nil, eris.Wrap(err, "unmarshal questions")
	}
	return &sess, nil
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}
