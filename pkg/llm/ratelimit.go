package llm

import (
	"context"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// RateLimiter is the single place the cycle runner's producer may block:
// the backpressure gate reads Utilization() to decide whether to pause,
// and each LLM call wraps itself in Acquire/release.
type RateLimiter interface {
	// Acquire blocks until capacity is available, scoped by metadata
	// (e.g. {experiment, row_id, estimated_tokens}). The returned release
	// func must be callable on every exit path, including panics.
	Acquire(ctx context.Context, metadata map[string]any) (release func(), err error)
	// Utilization reports current load in [0, 1], used by the producer's
	// backpressure gate.
	Utilization() float64
	// UpdateUsage records actual post-call usage (e.g. token counts) for
	// limiters that track a token window in addition to a request window.
	UpdateUsage(resp types.LLMResponse, metadata map[string]any)
}
