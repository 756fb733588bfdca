package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fusionaix/rfp-cli/pkg/llm"
	"github.com/fusionaix/rfp-cli/pkg/retrieval"
)

// --- LLM mock (testify) ---

type mockLLMClient struct {
	mock.Mock
}

func (m *mockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// --- Scripted LLM fake ---

// funcLLMClient routes each call through fn. Safe for concurrent use; it
// also counts calls so tests can assert how often the model was consulted.
type funcLLMClient struct {
	mu    sync.Mutex
	calls []llm.Request
	fn    func(req llm.Request) (*llm.Response, error)
}

func (f *funcLLMClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *funcLLMClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		ID:    "msg_test",
		Model: "test-model",
		Text:  text,
	}
}

// systemPromptOf returns the first system block text of a request, so
// scripted fakes can dispatch on which stage is calling.
func systemPromptOf(req llm.Request) string {
	if len(req.System) == 0 {
		return ""
	}
	return req.System[0].Text
}

// --- Retriever mock ---

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Add(ctx context.Context, docs ...retrieval.Document) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *mockRetriever) Search(ctx context.Context, query string, limit int) ([]retrieval.Result, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Result), args.Error(1)
}

func (m *mockRetriever) Close() error {
	args := m.Called()
	return args.Error(0)
}
