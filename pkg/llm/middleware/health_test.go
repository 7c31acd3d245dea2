package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tarsy-labs/dmp/pkg/types"
)

func TestHealthMonitor_TracksRequestsAndExhaustion(t *testing.T) {
	h := NewHealthMonitor()
	req := &types.LLMRequest{}

	for i := 0; i < 4; i++ {
		_, _ = h.BeforeRequest(context.Background(), req)
	}
	h.OnRetryExhausted(context.Background(), req, nil, assert.AnError)

	total, exhausted, rate := h.Health()
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(1), exhausted)
	assert.InDelta(t, 0.25, rate, 0.001)
}

func TestHealthMonitor_ZeroTotalHasZeroRate(t *testing.T) {
	h := NewHealthMonitor()
	total, exhausted, rate := h.Health()
	assert.Zero(t, total)
	assert.Zero(t, exhausted)
	assert.Zero(t, rate)
}
