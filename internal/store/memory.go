package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/fusionaix/rfp-cli/internal/model"
	"github.com/fusionaix/rfp-cli/internal/session"
)

// MemoryStore is an in-memory Store for tests and throwaway runs.
// Values are copied through JSON so callers never alias stored state.
type MemoryStore struct {
	mu           sync.RWMutex
	runs         map[string]*model.Run
	sessions     map[string]*session.Session
	sessionByRun map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		runs:         make(map[string]*model.Run),
		sessions:     make(map[string]*session.Session),
		sessionByRun: make(map[string]string),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, name, rawText string) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    model.RunStatusPending,
		RawText:   rawText,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = copyValue(run)
	return run, nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return copyValue(run), nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return eris.Wrapf(ErrRunNotFound, "run %s", run.ID)
	}
	run.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = copyValue(run)
	return nil
}

func (s *MemoryStore) UpdateRunStatus(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []model.Run
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, *copyValue(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return eris.Errorf("store: duplicate session ID %s", sess.ID)
	}
	s.sessions[sess.ID] = copyValue(sess)
	s.sessionByRun[sess.RunID] = sess.ID
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, eris.Wrapf(session.ErrSessionNotFound, "session %s", id)
	}
	return copyValue(sess), nil
}

func (s *MemoryStore) GetSessionByRun(_ context.Context, runID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionByRun[runID]
	if !ok {
		return nil, eris.Wrapf(session.ErrSessionNotFound, "run %s", runID)
	}
	return copyValue(s.sessions[id]), nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return eris.Wrapf(session.ErrSessionNotFound, "session %s", sess.ID)
	}
	s.sessions[sess.ID] = copyValue(sess)
	return nil
}

func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyValue[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}
