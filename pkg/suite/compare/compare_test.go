package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/runner"
	"github.com/tarsy-labs/dmp/pkg/types"
)

func TestRowCount_ReportsDeltaBetweenVariantAndBaseline(t *testing.T) {
	rc, err := NewRowCount(nil)
	require.NoError(t, err)

	baseline := &runner.Payload{Results: make([]types.Record, 10)}
	variant := &runner.Payload{Results: make([]types.Record, 10)}

	diff, err := rc.Compare(baseline, variant)
	require.NoError(t, err)
	assert.Equal(t, 0, diff["row_delta"])

	variant.Results = make([]types.Record, 7)
	diff, err = rc.Compare(baseline, variant)
	require.NoError(t, err)
	assert.Equal(t, -3, diff["row_delta"])
}

func TestMetricDelta_ComputesMeanDifference(t *testing.T) {
	md, err := NewMetricDelta(map[string]any{"metric": "score"})
	require.NoError(t, err)

	baseline := &runner.Payload{Results: []types.Record{
		{Metrics: map[string]any{"score": 0.5}},
		{Metrics: map[string]any{"score": 0.7}},
	}}
	variant := &runner.Payload{Results: []types.Record{
		{Metrics: map[string]any{"score": 0.9}},
		{Metrics: map[string]any{"score": 0.9}},
	}}

	diff, err := md.Compare(baseline, variant)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, diff["baseline_mean"].(float64), 1e-9)
	assert.InDelta(t, 0.9, diff["variant_mean"].(float64), 1e-9)
	assert.InDelta(t, 0.3, diff["delta"].(float64), 1e-9)
}

func TestMetricDelta_NilWhenMetricMissingFromEitherSide(t *testing.T) {
	md, err := NewMetricDelta(map[string]any{"metric": "score"})
	require.NoError(t, err)

	baseline := &runner.Payload{Results: []types.Record{{Metrics: map[string]any{}}}}
	variant := &runner.Payload{Results: []types.Record{{Metrics: map[string]any{"score": 0.9}}}}

	diff, err := md.Compare(baseline, variant)
	require.NoError(t, err)
	assert.Nil(t, diff)
}

func TestFailureRateDelta_ComputesRateDifference(t *testing.T) {
	frd, err := NewFailureRateDelta(nil)
	require.NoError(t, err)

	baseline := &runner.Payload{
		Results:  make([]types.Record, 9),
		Failures: make([]types.Failure, 1),
	}
	variant := &runner.Payload{
		Results:  make([]types.Record, 6),
		Failures: make([]types.Failure, 4),
	}

	diff, err := frd.Compare(baseline, variant)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, diff["baseline_rate"].(float64), 1e-9)
	assert.InDelta(t, 0.4, diff["variant_rate"].(float64), 1e-9)
	assert.InDelta(t, 0.3, diff["delta"].(float64), 1e-9)
}
