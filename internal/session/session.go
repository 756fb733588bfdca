// Package session manages the clarification conversation attached to a
// run: the questions gap analysis has asked, the answers the user has
// given, and the deterministic Q&A context derived from them.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fusionaix/rfp-cli/internal/model"
)

// Sentinel errors. ErrQuestionNotFound and ErrAlreadyAnswered are distinct
// so callers can tell a bad reference from a duplicate submission.
var (
	ErrSessionNotFound  = errors.New("session: not found")
	ErrQuestionNotFound = errors.New("session: question not found")
	ErrAlreadyAnswered  = errors.New("session: question already answered")
)

// Session is the conversation attached to one run. Questions are
// append-only; answers land on their question in place.
type Session struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	Questions []model.Question `json:"questions"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Question returns the question with the given ID.
func (s *Session) Question(questionID string) (*model.Question, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == questionID {
			return &s.Questions[i], true
		}
	}
	return nil, false
}

// Pending returns the unanswered questions in priority order (high before
// medium before low), creation order within a priority.
func (s *Session) Pending() []model.Question {
	var pending []model.Question
	for _, q := range s.Questions {
		if !q.Answered {
			pending = append(pending, q)
		}
	}
	model.SortQuestionsByPriority(pending)
	return pending
}

// Answered returns the answered questions in creation order.
func (s *Session) Answered() []model.Question {
	var answered []model.Question
	for _, q := range s.Questions {
		if q.Answered {
			answered = append(answered, q)
		}
	}
	return answered
}

// QAContext renders the answered questions as a deterministic text block
// in creation order. A question's category labels its Q line so prompts
// can tell which topic an answer covers. Skipped questions carry a
// [skipped] marker so downstream prompts know the user declined rather
// than answered.
func (s *Session) QAContext() string {
	answered := s.Answered()
	if len(answered) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, q := range answered {
		if i > 0 {
			sb.WriteString("\n")
		}
		if q.Category != "" {
			fmt.Fprintf(&sb, "Q [%s]: %s\n", q.Category, q.Text)
		} else {
			fmt.Fprintf(&sb, "Q: %s\n", q.Text)
		}
		if q.Answer != nil && q.Answer.Skipped {
			sb.WriteString("A: [skipped]\n")
		} else if q.Answer != nil {
			fmt.Fprintf(&sb, "A: %s\n", q.Answer.Text)
		}
	}
	return sb.String()
}

// Repository persists sessions. The store package's Store satisfies it.
type Repository interface {
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByRun(ctx context.Context, runID string) (*Session, error)
	UpdateSession(ctx context.Context, sess *Session) error
}
