package llm

import (
	"context"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// Middleware wraps every LLM call. BeforeRequest runs in registration
// order; implementations that also want to observe the response or retry
// exhaustion implement the optional interfaces below and are probed for
// them once at Executor construction time.
type Middleware interface {
	Name() string
	BeforeRequest(ctx context.Context, req *types.LLMRequest) (*types.LLMRequest, error)
}

// AfterResponseMiddleware is probed for on each Middleware; when present,
// AfterResponse runs in reverse registration order (LIFO), mirroring the
// request chain.
type AfterResponseMiddleware interface {
	AfterResponse(ctx context.Context, req *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error)
}

// RetryExhaustedMiddleware is notified, best-effort and isolated from each
// other, when a call exhausts its retry budget. A panicking or erroring
// hook must never mask the original error.
type RetryExhaustedMiddleware interface {
	OnRetryExhausted(ctx context.Context, req *types.LLMRequest, metadata map[string]any, err error)
}
