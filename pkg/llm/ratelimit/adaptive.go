package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// Adaptive combines a requests-per-minute limit with an optional
// tokens-per-minute limit, each tracked over a trimmed, time-windowed
// deque of timestamps, with acquisition done via a context-aware retry
// loop suited to goroutines.
type Adaptive struct {
	mu sync.Mutex

	requestsPerMinute int
	tokensPerMinute   int // 0 disables the token window
	interval          time.Duration

	requestTimes []time.Time
	tokenTimes   []time.Time
	tokenCounts  []int

	lastUtilization float64
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
}

// NewAdaptive builds an Adaptive limiter. tokensPerMinute of 0 disables the
// token window entirely (request-count only).
func NewAdaptive(requestsPerMinute, tokensPerMinute int, interval time.Duration) (*Adaptive, error) {
	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests_per_minute must be > 0")
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Adaptive{
		requestsPerMinute: requestsPerMinute,
		tokensPerMinute:   tokensPerMinute,
		interval:          interval,
		now:               time.Now,
		sleep:             contextSleep,
	}, nil
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Adaptive) Acquire(ctx context.Context, metadata map[string]any) (func(), error) {
	estimated := estimatedTokens(metadata)
	for {
		wait, ready := a.tryAcquire(estimated)
		if ready {
			return func() {}, nil
		}
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		if err := a.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (a *Adaptive) tryAcquire(estimatedTokens int) (wait time.Duration, ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.trimLocked(now)

	requestUsage := float64(len(a.requestTimes)) / float64(a.requestsPerMinute)
	tokenUsage := 0.0
	if a.tokensPerMinute > 0 {
		used := 0
		for _, c := range a.tokenCounts {
			used += c
		}
		tokenUsage = float64(used+estimatedTokens) / float64(a.tokensPerMinute)
	}
	a.lastUtilization = maxFloat(requestUsage, tokenUsage)

	if requestUsage < 1.0 && tokenUsage < 1.0 {
		a.requestTimes = append(a.requestTimes, now)
		return 0, true
	}

	return a.nextAvailableLocked(now), false
}

func (a *Adaptive) nextAvailableLocked(now time.Time) time.Duration {
	best := 100 * time.Millisecond
	found := false
	consider := func(t time.Time) {
		expiry := t.Add(a.interval)
		if d := expiry.Sub(now); d > 0 && (!found || d < best) {
			best = d
			found = true
		}
	}
	if len(a.requestTimes) > 0 {
		consider(a.requestTimes[0])
	}
	if len(a.tokenTimes) > 0 {
		consider(a.tokenTimes[0])
	}
	return best
}

func (a *Adaptive) trimLocked(now time.Time) {
	cutoff := now.Add(-a.interval)
	a.requestTimes = trimBefore(a.requestTimes, cutoff)
	a.tokenTimes, a.tokenCounts = trimTokensBefore(a.tokenTimes, a.tokenCounts, cutoff)
}

func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

func trimTokensBefore(times []time.Time, counts []int, cutoff time.Time) ([]time.Time, []int) {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:], counts[i:]
}

func (a *Adaptive) Utilization() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.lastUtilization
	if u > 1 {
		u = 1
	}
	return u
}

// UpdateUsage extracts prompt+completion token counts from the response
// metrics and appends them to the token window, when a token limit is
// configured.
func (a *Adaptive) UpdateUsage(resp types.LLMResponse, _ map[string]any) {
	if a.tokensPerMinute <= 0 {
		return
	}
	total := int(resp.Metrics["prompt_tokens"] + resp.Metrics["completion_tokens"])
	if total == 0 {
		total = int(resp.Metrics["total_tokens"])
	}
	if total <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.tokenTimes = append(a.tokenTimes, now)
	a.tokenCounts = append(a.tokenCounts, total)
}

func estimatedTokens(metadata map[string]any) int {
	if metadata == nil {
		return 0
	}
	if v, ok := metadata["estimated_tokens"]; ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	if v, ok := metadata["expected_tokens"]; ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return 0
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
