package model

import (
	"sort"
	"time"
)

// Question priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// priorityRank maps priority strings to numeric ranks for comparison.
// Lower rank means higher priority.
var priorityRank = map[string]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// PriorityRank returns the sort rank for a priority. Unknown priorities
// rank last.
func PriorityRank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return len(priorityRank)
}

// Question is a clarifying question produced by gap analysis, tied to the
// solution requirement whose gap it addresses.
type Question struct {
	ID             string    `json:"id"`
	RequirementID  string    `json:"requirement_id"`
	Text           string    `json:"text"`
	Priority       string    `json:"priority"`
	Category       string    `json:"category,omitempty"`
	GapDescription string    `json:"gap_description,omitempty"`
	Answered       bool      `json:"answered"`
	Answer         *Answer   `json:"answer,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Answer records the user's reply to a question. An empty Text with
// Skipped set means the user declined to answer.
type Answer struct {
	Text       string    `json:"text"`
	Skipped    bool      `json:"skipped"`
	AnsweredAt time.Time `json:"answered_at"`
}

// SortQuestionsByPriority stable-sorts questions so higher priorities come
// first, preserving creation order within a priority.
func SortQuestionsByPriority(questions []Question) {
	sort.SliceStable(questions, func(i, j int) bool {
		return PriorityRank(questions[i].Priority) < PriorityRank(questions[j].Priority)
	})
}

// TokenUsage tracks token consumption across LLM calls in a run.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
}
