package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/types"
)

func TestFixedWindow_RejectsInvalidConstruction(t *testing.T) {
	_, err := NewFixedWindow(0, 1)
	require.Error(t, err)
	_, err = NewFixedWindow(1, 0)
	require.Error(t, err)
}

func TestFixedWindow_AcquireSucceedsWithinBurst(t *testing.T) {
	fw, err := NewFixedWindow(5, 1)
	require.NoError(t, err)
	release, err := fw.Acquire(context.Background(), nil)
	require.NoError(t, err)
	release()
	assert.Greater(t, fw.Utilization(), 0.0)
}

func TestAdaptive_RejectsInvalidConstruction(t *testing.T) {
	_, err := NewAdaptive(0, 0, time.Minute)
	require.Error(t, err)
}

func TestAdaptive_AllowsUpToRequestLimit(t *testing.T) {
	a, err := NewAdaptive(2, 0, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		release, err := a.Acquire(context.Background(), nil)
		require.NoError(t, err)
		release()
	}
	assert.InDelta(t, 1.0, a.Utilization(), 0.001)
}

func TestAdaptive_BlocksUntilWindowExpiresThenContextCancellation(t *testing.T) {
	a, err := NewAdaptive(1, 0, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = a.Acquire(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, nil)
	require.Error(t, err)
}

func TestAdaptive_UpdateUsageIgnoredWithoutTokenLimit(t *testing.T) {
	a, err := NewAdaptive(10, 0, time.Minute)
	require.NoError(t, err)
	a.UpdateUsage(types.LLMResponse{Metrics: map[string]float64{"prompt_tokens": 100}}, nil)
	assert.Empty(t, a.tokenTimes)
}
