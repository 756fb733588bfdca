package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// Manager serializes all mutations to a session so concurrent answer
// submissions cannot interleave. Reads go straight to the repository.
type Manager struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager over the given repository.
func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex guarding one session, creating it on
// first use.
func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// Create starts a new session for a run.
func (m *Manager) Create(ctx context.Context, runID string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.CreateSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "session: create")
	}
	return sess, nil
}

// Get returns a session by ID.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.repo.GetSession(ctx, sessionID)
}

// GetOrCreateForRun returns the run's session, creating one if none exists.
func (m *Manager) GetOrCreateForRun(ctx context.Context, runID string) (*Session, error) {
	sess, err := m.repo.GetSessionByRun(ctx, runID)
	if err == nil {
		return sess, nil
	}
	if !eris.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	return m.Create(ctx, runID)
}

// AddQuestion appends a question to the session. The question receives an
// ID and creation timestamp if it has none.
func (m *Manager) AddQuestion(ctx context.Context, sessionID string, q model.Question) (*model.Question, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	sess.Questions = append(sess.Questions, q)
	sess.UpdatedAt = time.Now().UTC()

	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "session: add question")
	}
	return &q, nil
}

// SubmitAnswer records an answer on a question. An empty or whitespace
// answer marks the question skipped. The check-and-set is atomic under the
// session lock: a second submission for the same question returns
// ErrAlreadyAnswered and leaves the first answer intact.
func (m *Manager) SubmitAnswer(ctx context.Context, sessionID, questionID, text string) (*Session, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	q, ok := sess.Question(questionID)
	if !ok {
		return nil, eris.Wrapf(ErrQuestionNotFound, "question %s", questionID)
	}
	if q.Answered {
		return nil, eris.Wrapf(ErrAlreadyAnswered, "question %s", questionID)
	}

	trimmed := strings.TrimSpace(text)
	q.Answered = true
	q.Answer = &model.Answer{
		Text:       trimmed,
		Skipped:    trimmed == "",
		AnsweredAt: time.Now().UTC(),
	}
	sess.UpdatedAt = time.Now().UTC()

	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "session: submit answer")
	}

	zap.L().Debug("answer recorded",
		zap.String("session_id", sessionID),
		zap.String("question_id", questionID),
		zap.Bool("skipped", q.Answer.Skipped),
	)
	return sess, nil
}
