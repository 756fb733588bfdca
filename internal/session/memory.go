package session

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// MemoryRepository is an in-memory Repository. Sessions are copied on the
// way in and out so callers never share mutable state with the store.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byRun    map[string]string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
		byRun:    make(map[string]string),
	}
}

func (r *MemoryRepository) CreateSession(_ context.Context, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.ID]; exists {
		return eris.Errorf("session: duplicate session ID %s", sess.ID)
	}
	r.sessions[sess.ID] = copySession(sess)
	r.byRun[sess.RunID] = sess.ID
	return nil
}

func (r *MemoryRepository) GetSession(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	return copySession(sess), nil
}

func (r *MemoryRepository) GetSessionByRun(_ context.Context, runID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRun[runID]
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "run %s", runID)
	}
	return copySession(r.sessions[id]), nil
}

func (r *MemoryRepository) UpdateSession(_ context.Context, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; !ok {
		return eris.Wrapf(ErrSessionNotFound, "session %s", sess.ID)
	}
	r.sessions[sess.ID] = copySession(sess)
	return nil
}

func copySession(sess *Session) *Session {
	out := *sess
	out.Questions = make([]model.Question, len(sess.Questions))
	for i, q := range sess.Questions {
		out.Questions[i] = q
		if q.Answer != nil {
			ans := *q.Answer
			out.Questions[i].Answer = &ans
		}
	}
	return &out
}
