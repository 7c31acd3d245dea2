// Package ratelimit implements the LLM executor's RateLimiter contract:
// a fixed-window limiter built on golang.org/x/time/rate, and an adaptive
// requests+tokens-per-minute limiter ported from a reference
// implementation's busy-wait windowed-deque algorithm.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/tarsy-labs/dmp/pkg/types"
	"golang.org/x/time/rate"
)

// FixedWindow wraps golang.org/x/time/rate.Limiter to satisfy the executor's
// RateLimiter contract: requests per interval, with Utilization() derived
// from the limiter's current token bucket level against its burst size.
type FixedWindow struct {
	limiter *rate.Limiter
	burst   int
}

// NewFixedWindow builds a limiter allowing `requests` calls per `perSeconds`
// seconds, with burst equal to requests (one full window's worth of calls
// may fire back-to-back).
func NewFixedWindow(requests int, perSeconds float64) (*FixedWindow, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("requests must be > 0")
	}
	if perSeconds <= 0 {
		return nil, fmt.Errorf("per_seconds must be > 0")
	}
	r := rate.Limit(float64(requests) / perSeconds)
	return &FixedWindow{limiter: rate.NewLimiter(r, requests), burst: requests}, nil
}

func (f *FixedWindow) Acquire(ctx context.Context, _ map[string]any) (func(), error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func (f *FixedWindow) Utilization() float64 {
	tokens := f.limiter.Tokens()
	if f.burst == 0 {
		return 0
	}
	used := float64(f.burst) - tokens
	if used < 0 {
		used = 0
	}
	u := used / float64(f.burst)
	if u > 1 {
		u = 1
	}
	return u
}

func (f *FixedWindow) UpdateUsage(types.LLMResponse, map[string]any) {
	// Request-count based: nothing to record from response usage.
}
