package suite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/artifact/sink"
	"github.com/tarsy-labs/dmp/pkg/llm"
	"github.com/tarsy-labs/dmp/pkg/runner"
	"github.com/tarsy-labs/dmp/pkg/suite/compare"
	"github.com/tarsy-labs/dmp/pkg/types"
)

type fakeClient struct{}

func (f *fakeClient) Generate(_ context.Context, _, _ string, _ map[string]any) (types.LLMResponse, error) {
	return types.LLMResponse{Content: "ok", Metrics: map[string]float64{"score": 1.0}}, nil
}

type sliceSource struct{ rows []map[string]any }

func (s *sliceSource) Load(context.Context) (runner.Batch, error) {
	return runner.Batch{Rows: s.rows}, nil
}

func rowsOf(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"value": i}
	}
	return rows
}

func newTestRegistries() *Registries {
	regs := NewRegistries()
	regs.LLMClient.Register("fake", func(map[string]any) (llm.Client, error) { return &fakeClient{}, nil })
	regs.DataSource.Register("rows10", func(map[string]any) (runner.DataSource, error) {
		return &sliceSource{rows: rowsOf(10)}, nil
	})
	regs.Sink.Register("memory", func(map[string]any) (artifact.Sink, error) { return sink.NewMemory(), nil })
	regs.Comparison.Register("row_count", func(opts map[string]any) (ComparisonPlugin, error) { return compare.NewRowCount(opts) })
	return regs
}

func baseDefaults() map[string]any {
	return map[string]any{
		"prompts": map[string]any{
			"system": "You are helpful.",
			"user":   "Row: {value}",
		},
		"llm":        map[string]any{"name": "fake"},
		"datasource": map[string]any{"name": "rows10"},
		"sinks": []any{
			map[string]any{"id": "out", "plugin": "memory"},
		},
	}
}

func TestRunStandard_RunsEachCycleIndependently(t *testing.T) {
	o := NewOrchestrator(newTestRegistries())
	suiteCfg := SuiteConfig{
		Defaults: baseDefaults(),
		Cycles: []CycleEntry{
			{Name: "a", Data: map[string]any{}},
			{Name: "b", Data: map[string]any{}},
		},
	}

	results, err := o.RunStandard(context.Background(), suiteCfg)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results["a"].Results, 10)
	assert.Len(t, results["b"].Results, 10)
}

// TestRunExperimental_ComparesVariantAgainstBaseline is the S7 seed
// scenario: a baseline and a variant of equal size, row_count configured
// on the variant, expecting a zero row_delta.
func TestRunExperimental_ComparesVariantAgainstBaseline(t *testing.T) {
	o := NewOrchestrator(newTestRegistries())
	suiteCfg := SuiteConfig{
		Defaults: baseDefaults(),
		Cycles: []CycleEntry{
			{Name: "baseline", Data: map[string]any{"metadata": map[string]any{"is_baseline": true}}},
			{Name: "variant", Data: map[string]any{
				"baselines": []any{map[string]any{"name": "row_count"}},
			}},
		},
	}

	result, err := o.RunExperimental(context.Background(), suiteCfg)
	require.NoError(t, err)
	assert.Equal(t, "baseline", result.Baseline)
	require.Contains(t, result.Results, "variant")

	comparisons, ok := result.Results["variant"].Metadata["baseline_comparison"].(map[string]any)
	require.True(t, ok)
	rowCountDiff, ok := comparisons["row_count"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0, rowCountDiff["row_delta"])
}

func TestRunExperimental_IdentifiesFirstCycleAsBaselineWhenNoneFlagged(t *testing.T) {
	o := NewOrchestrator(newTestRegistries())
	suiteCfg := SuiteConfig{
		Defaults: baseDefaults(),
		Cycles: []CycleEntry{
			{Name: "first", Data: map[string]any{}},
			{Name: "second", Data: map[string]any{}},
		},
	}

	result, err := o.RunExperimental(context.Background(), suiteCfg)
	require.NoError(t, err)
	assert.Equal(t, "first", result.Baseline)
}

func TestExplain_AnswersFromStoredPayload(t *testing.T) {
	o := NewOrchestrator(newTestRegistries())
	suiteCfg := SuiteConfig{
		Defaults: baseDefaults(),
		Cycles:   []CycleEntry{{Name: "a", Data: map[string]any{}}},
	}
	_, err := o.RunStandard(context.Background(), suiteCfg)
	require.NoError(t, err)

	answer, err := o.Explain(context.Background(), "a", "how many rows ran?")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
}
