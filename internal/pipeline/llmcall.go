package pipeline

import (
	"context"

	"github.com/fusionaix/rfp-cli/internal/resilience"
	"github.com/fusionaix/rfp-cli/pkg/llm"
)

// completeJSONRetry wraps llm.CompleteJSON with the standard transient-error
// retry policy. Schema validation failures are not transient and surface
// immediately; only rate limits, overloads and network errors are retried.
func completeJSONRetry(ctx context.Context, client llm.Client, req llm.Request, out any, operation string) (*llm.Response, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", operation)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*llm.Response, error) {
		return llm.CompleteJSON(ctx, client, req, out)
	})
}

// completeTextRetry wraps a plain completion with the same retry policy.
func completeTextRetry(ctx context.Context, client llm.Client, req llm.Request, operation string) (*llm.Response, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", operation)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*llm.Response, error) {
		return client.Complete(ctx, req)
	})
}
