package store

import (
	"context"
	"errors"

	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
)

// ErrRunNotFound is returned when a run ID resolves to nothing.
var ErrRunNotFound = errors.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for runs and their
// conversation sessions. It satisfies session.Repository.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, name, rawText string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	UpdateRunStatus(ctx context.Context, runID, status string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Sessions
	CreateSession(ctx context.Context, sess *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	GetSessionByRun(ctx context.Context, runID string) (*session.Session, error)
	UpdateSession(ctx context.Context, sess *session.Session) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
