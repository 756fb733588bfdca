package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fusionaix/rfp-cli/internal/db"
	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"get_run":           `SELECT id, name, status, raw_text, extraction, scope, requirements, build_query, response, created_at, updated_at FROM runs WHERE id = $1`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_session":       `SELECT id, run_id, questions, created_at, updated_at FROM sessions WHERE id = $1`,
	"update_session":    `UPDATE sessions SET questions = $1, updated_at = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool creates a PostgresStore over an existing pool,
// used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	raw_text     TEXT NOT NULL DEFAULT '',
	extraction   JSONB,
	scope        JSONB,
	requirements JSONB,
	build_query  JSONB,
	response     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL UNIQUE REFERENCES runs(id),
	questions  JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_sessions_run_id ON sessions(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, name, rawText string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, name, status, raw_text, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, name, model.RunStatusPending, rawText, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, status, raw_text, extraction, scope, requirements, build_query, response, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRunPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	extraction, scope, requirements, buildQuery, response, err := marshalArtifactsPG(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run artifacts")
	}
	run.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET name = $1, status = $2, raw_text = $3, extraction = $4, scope = $5, requirements = $6, build_query = $7, response = $8, updated_at = $9 WHERE id = $10`,
		run.Name, run.Status, run.RawText,
		extraction, scope, requirements, buildQuery, response,
		run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, name, status, raw_text, extraction, scope, requirements, build_query, response, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRunPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *session.Session) error {
	questionsJSON, err := json.Marshal(sess.Questions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal questions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, run_id, questions, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.RunID, questionsJSON, sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, questions, created_at, updated_at FROM sessions WHERE id = $1`, id)
	sess, err := scanSessionPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(session.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return sess, nil
}

func (s *PostgresStore) GetSessionByRun(ctx context.Context, runID string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, questions, created_at, updated_at FROM sessions WHERE run_id = $1`, runID)
	sess, err := scanSessionPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(session.ErrSessionNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session for run %s", runID)
	}
	return sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	questionsJSON, err := json.Marshal(sess.Questions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal questions")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET questions = $1, updated_at = $2 WHERE id = $3`,
		questionsJSON, time.Now().UTC(), sess.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", sess.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(session.ErrSessionNotFound, "session %s", sess.ID)
	}
	return nil
}

// --- row scanning helpers ---

func marshalArtifactsPG(run *model.Run) (extraction, scope, requirements, buildQuery, response []byte, err error) {
	marshal := func(v any, isNil bool) ([]byte, error) {
		if isNil {
			return nil, nil
		}
		return json.Marshal(v)
	}

	if extraction, err = marshal(run.Extraction, run.Extraction == nil); err != nil {
		return
	}
	if scope, err = marshal(run.Scope, run.Scope == nil); err != nil {
		return
	}
	if requirements, err = marshal(run.Requirements, run.Requirements == nil); err != nil {
		return
	}
	if buildQuery, err = marshal(run.BuildQuery, run.BuildQuery == nil); err != nil {
		return
	}
	response, err = marshal(run.Response, run.Response == nil)
	return
}

func scanRunPG(row pgx.Row) (*model.Run, error) {
	var run model.Run
	var extraction, scope, requirements, buildQuery, response []byte

	err := row.Scan(&run.ID, &run.Name, &run.Status, &run.RawText,
		&extraction, &scope, &requirements, &buildQuery, &response,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(extraction) > 0 {
		run.Extraction = &model.ExtractionResult{}
		if err := json.Unmarshal(extraction, run.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	if len(scope) > 0 {
		run.Scope = &model.ScopeResult{}
		if err := json.Unmarshal(scope, run.Scope); err != nil {
			return nil, eris.Wrap(err, "unmarshal scope")
		}
	}
	if len(requirements) > 0 {
		run.Requirements = &model.RequirementsResult{}
		if err := json.Unmarshal(requirements, run.Requirements); err != nil {
			return nil, eris.Wrap(err, "unmarshal requirements")
		}
		run.Structure = run.Requirements.StructureDetection
	}
	if len(buildQuery) > 0 {
		run.BuildQuery = &model.BuildQuery{}
		if err := json.Unmarshal(buildQuery, run.BuildQuery); err != nil {
			return nil, eris.Wrap(err, "unmarshal build query")
		}
	}
	if len(response) > 0 {
		run.Response = &model.ResponseResult{}
		if err := json.Unmarshal(response, run.Response); err != nil {
			return nil, eris.Wrap(err, "unmarshal response")
		}
	}
	return &run, nil
}

func scanSessionPG(row pgx.Row) (*session.Session, error) {
	var sess session.Session
	var questionsJSON []byte

	err := row.Scan(&sess.ID, &sess.RunID, &questionsJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questionsJSON, &sess.Questions); err != nil {
		return nil, eris.Wrap(err, "unmarshal questions")
	}
	return &sess, nil
}
