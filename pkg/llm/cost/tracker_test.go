package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/types"
)

func TestTracker_RecordsFromMetrics(t *testing.T) {
	tr := NewTracker(map[string]Pricing{"default": {InputPerToken: 0.001, OutputPerToken: 0.002}})

	metrics, err := tr.Record(types.LLMResponse{Metrics: map[string]float64{"prompt_tokens": 100, "completion_tokens": 50}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, metrics["prompt_tokens"])
	assert.Equal(t, 50.0, metrics["completion_tokens"])
	assert.InDelta(t, 0.2, metrics["cost"], 0.0001)

	summary := tr.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, 100.0, summary["prompt_tokens"])
	assert.Equal(t, 50.0, summary["completion_tokens"])
	assert.InDelta(t, 0.2, summary["total_cost"], 0.0001)
}

func TestTracker_AccumulatesAcrossCalls(t *testing.T) {
	tr := NewTracker(map[string]Pricing{"default": {InputPerToken: 0.001, OutputPerToken: 0.001}})
	for i := 0; i < 3; i++ {
		_, err := tr.Record(types.LLMResponse{Metrics: map[string]float64{"prompt_tokens": 10, "completion_tokens": 10}}, nil)
		require.NoError(t, err)
	}
	summary := tr.Summary()
	assert.Equal(t, 30.0, summary["prompt_tokens"])
	assert.Equal(t, 30.0, summary["completion_tokens"])
}

func TestTracker_SummaryNilWhenUnused(t *testing.T) {
	tr := NewTracker(map[string]Pricing{"default": {}})
	assert.Nil(t, tr.Summary())
}

func TestTracker_PerProviderPricing(t *testing.T) {
	tr := NewTracker(map[string]Pricing{
		"default": {InputPerToken: 0.001},
		"premium": {InputPerToken: 0.01},
	})
	metrics, err := tr.Record(types.LLMResponse{Metrics: map[string]float64{"prompt_tokens": 10}}, map[string]any{"provider": "premium"})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, metrics["cost"], 0.0001)
}

func TestTracker_ExtractsUsageFromRawMap(t *testing.T) {
	tr := NewTracker(map[string]Pricing{"default": {InputPerToken: 1, OutputPerToken: 1}})
	resp := types.LLMResponse{Raw: map[string]any{"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 2}}}
	metrics, err := tr.Record(resp, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, metrics["prompt_tokens"])
	assert.Equal(t, 2.0, metrics["completion_tokens"])
}
