package middleware

import (
	"context"
	"sync"

	"github.com/tarsy-labs/dmp/pkg/types"
)

// HealthMonitor tracks a rolling count of requests and retry-exhaustion
// events behind its own mutex, modeled on the cycle runner's worker-health
// snapshot pattern: a small in-memory counter queryable without touching
// any shared executor state.
type HealthMonitor struct {
	mu         sync.Mutex
	total      int64
	exhausted  int64
}

func NewHealthMonitor() *HealthMonitor { return &HealthMonitor{} }

func (h *HealthMonitor) Name() string { return "health_monitor" }

func (h *HealthMonitor) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	h.mu.Lock()
	h.total++
	h.mu.Unlock()
	return req, nil
}

func (h *HealthMonitor) OnRetryExhausted(_ context.Context, _ *types.LLMRequest, _ map[string]any, _ error) {
	h.mu.Lock()
	h.exhausted++
	h.mu.Unlock()
}

// Health returns a point-in-time snapshot: total attempts observed and the
// fraction that ended in retry exhaustion.
func (h *HealthMonitor) Health() (total, exhausted int64, errorRate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 {
		return 0, 0, 0
	}
	return h.total, h.exhausted, float64(h.exhausted) / float64(h.total)
}
