package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_OverrideUsesHighestPrecedence(t *testing.T) {
	m := NewMerger()
	merged, trace := m.Merge([]ConfigSource{
		{Name: "defaults", Data: map[string]any{"timeout": 10}, Precedence: 0},
		{Name: "profile", Data: map[string]any{"timeout": 30}, Precedence: 1},
	})

	assert.Equal(t, 30, merged["timeout"])
	value, source, ok := trace.Explain("timeout")
	require.True(t, ok)
	assert.Equal(t, 30, value)
	assert.Equal(t, "profile", source)
	strategy, ok := trace.Strategy("timeout")
	require.True(t, ok)
	assert.Equal(t, StrategyOverride, strategy)
}

func TestMerge_AppendConcatenatesWithoutDedup(t *testing.T) {
	m := NewMerger()
	merged, _ := m.Merge([]ConfigSource{
		{Name: "defaults", Data: map[string]any{"row_plugins": []any{"a", "b"}}, Precedence: 0},
		{Name: "pack", Data: map[string]any{"row_plugins": []any{"b", "c"}}, Precedence: 1},
	})

	assert.Equal(t, []any{"a", "b", "b", "c"}, merged["row_plugins"])
}

func TestMerge_DeepMergeRecursesOnMapCollisions(t *testing.T) {
	m := NewMerger()
	merged, _ := m.Merge([]ConfigSource{
		{Name: "defaults", Data: map[string]any{"llm": map[string]any{"provider": "a", "timeout": 10}}, Precedence: 0},
		{Name: "profile", Data: map[string]any{"llm": map[string]any{"timeout": 20}}, Precedence: 1},
	})

	llm, ok := merged["llm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", llm["provider"])
	assert.Equal(t, 20, llm["timeout"])
}

func TestMerge_DeepMergeNeverMutatesInputSources(t *testing.T) {
	m := NewMerger()
	src1Data := map[string]any{"llm": map[string]any{"provider": "a"}}
	sources := []ConfigSource{
		{Name: "defaults", Data: src1Data, Precedence: 0},
		{Name: "profile", Data: map[string]any{"llm": map[string]any{"timeout": 20}}, Precedence: 1},
	}
	m.Merge(sources)

	// The original source map must be unchanged after merge.
	assert.Equal(t, map[string]any{"provider": "a"}, src1Data["llm"])
}

func TestMerge_UnknownKeyDefaultsToOverride(t *testing.T) {
	m := NewMerger()
	merged, trace := m.Merge([]ConfigSource{
		{Name: "defaults", Data: map[string]any{"custom_flag": "low"}, Precedence: 0},
		{Name: "profile", Data: map[string]any{"custom_flag": "high"}, Precedence: 1},
	})
	assert.Equal(t, "high", merged["custom_flag"])
	strategy, _ := trace.Strategy("custom_flag")
	assert.Equal(t, StrategyOverride, strategy)
}

func TestMerge_AppendLengthEqualsSumOfSourceLengths(t *testing.T) {
	m := NewMerger()
	merged, _ := m.Merge([]ConfigSource{
		{Name: "a", Data: map[string]any{"sinks": []any{"x", "y"}}, Precedence: 0},
		{Name: "b", Data: map[string]any{"sinks": []any{"z"}}, Precedence: 1},
	})
	assert.Len(t, merged["sinks"], 3)
}

func TestMerge_HighestPrecedenceSourceWinsRegardlessOfInputOrder(t *testing.T) {
	m := NewMerger()
	defaults := ConfigSource{Name: "defaults", Data: map[string]any{"timeout": 1}, Precedence: 0}
	pack := ConfigSource{Name: "pack", Data: map[string]any{"timeout": 2}, Precedence: 1}
	profile := ConfigSource{Name: "profile", Data: map[string]any{"timeout": 3}, Precedence: 2}

	inOrder, _ := m.Merge([]ConfigSource{defaults, pack, profile})
	reversed, _ := m.Merge([]ConfigSource{profile, pack, defaults})

	assert.Equal(t, inOrder["timeout"], reversed["timeout"])
	assert.Equal(t, 3, inOrder["timeout"])
}
