package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/artifact/sink"
	"github.com/tarsy-labs/dmp/pkg/config"
	"github.com/tarsy-labs/dmp/pkg/runner/halt"
	"github.com/tarsy-labs/dmp/pkg/types"
)

// scriptedClient returns a fixed sequence of outcomes keyed by call count
// per row_id, falling back to always-succeed. Used to force S3's retry
// exhaustion deterministically.
type scriptedClient struct {
	mu        sync.Mutex
	callCount map[string]int
	failRows  map[string]int // row_id -> number of leading failures before success (or -1 for always fail)
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{callCount: map[string]int{}, failRows: map[string]int{}}
}

func (c *scriptedClient) Generate(_ context.Context, _, userPrompt string, metadata map[string]any) (types.LLMResponse, error) {
	rowID, _ := metadata["row_id"].(string)
	c.mu.Lock()
	c.callCount[rowID]++
	n := c.callCount[rowID]
	failBudget := c.failRows[rowID]
	c.mu.Unlock()

	if failBudget == -1 || n <= failBudget {
		return types.LLMResponse{}, assertErr{rowID}
	}
	return types.LLMResponse{Content: "ok:" + userPrompt, Metrics: map[string]float64{"score": 1.0}}, nil
}

type assertErr struct{ rowID string }

func (e assertErr) Error() string { return "scripted failure for " + e.rowID }

func baseCfg(t *testing.T) *config.CycleConfig {
	t.Helper()
	return &config.CycleConfig{
		Name:           "cycle-under-test",
		SystemPrompt:   "You are helpful.",
		UserPrompt:     "Row: {value}",
		PromptFields:   []string{"value"},
		PromptDefaults: map[string]any{},
		Retry:          config.RetryConfig{MaxAttempts: 1, BackoffMultiplier: 1},
		Concurrency:    config.ConcurrencyConfig{BacklogThreshold: 50, UtilizationPause: 0.8, PauseIntervalSecs: 0.01},
		Checkpoint:     config.CheckpointConfig{Field: "id"},
	}
}

func memorySinkBinding(t *testing.T) ([]artifact.SinkBinding, *sink.Memory) {
	t.Helper()
	m := sink.NewMemory()
	b, err := artifact.NewBinding("memory", "memory", m, nil, nil, "", 0)
	require.NoError(t, err)
	return []artifact.SinkBinding{b}, m
}

func TestRun_SequentialHappyPath(t *testing.T) {
	cfg := baseCfg(t)
	client := newScriptedClient()
	sinks, mem := memorySinkBinding(t)

	r, err := New(cfg, Deps{LLMClient: client, Sinks: sinks})
	require.NoError(t, err)

	batch := Batch{Rows: []map[string]any{
		{"id": "1", "value": "a"},
		{"id": "2", "value": "b"},
		{"id": "3", "value": "c"},
	}}

	payload, err := r.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, payload.Results, 3)
	assert.Empty(t, payload.Failures)
	assert.Equal(t, 3, payload.Metadata["row_count"])
	assert.Len(t, mem.Records(), 1)
}

func TestRun_CheckpointSkipsAlreadyProcessedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o644))

	cfg := baseCfg(t)
	cfg.Checkpoint = config.CheckpointConfig{Enabled: true, Path: path, Field: "id"}
	client := newScriptedClient()
	sinks, _ := memorySinkBinding(t)

	r, err := New(cfg, Deps{LLMClient: client, Sinks: sinks})
	require.NoError(t, err)

	batch := Batch{Rows: []map[string]any{
		{"id": "1", "value": "a"},
		{"id": "2", "value": "b"},
	}}

	payload, err := r.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, payload.Results, 1)
	assert.Equal(t, 1, client.callCount["2"])
	assert.Equal(t, 0, client.callCount["1"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", string(data))
}

func TestRun_RetryExhaustionProducesFailureWithRetrySummary(t *testing.T) {
	cfg := baseCfg(t)
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, InitialDelaySecs: 0.001, BackoffMultiplier: 1}
	client := newScriptedClient()
	client.failRows["2"] = -1 // row 2 always fails
	sinks, _ := memorySinkBinding(t)

	r, err := New(cfg, Deps{LLMClient: client, Sinks: sinks})
	require.NoError(t, err)

	batch := Batch{Rows: []map[string]any{
		{"id": "1", "value": "a"},
		{"id": "2", "value": "b"},
	}}

	payload, err := r.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, payload.Results, 1)
	require.Len(t, payload.Failures, 1)

	failure := payload.Failures[0]
	require.NotNil(t, failure.Retry)
	assert.Equal(t, 3, failure.Retry.Attempts)
	assert.Equal(t, 3, failure.Retry.MaxAttempts)

	summary, ok := payload.Metadata["retry_summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, summary["exhausted"])
	assert.Equal(t, 2, summary["total_requests"])
	assert.Equal(t, 2, summary["total_retries"]) // row 1: 0 retries, row 2: 3-1=2 retries
}

func TestRun_ThresholdHaltStopsBeforeLaterRows(t *testing.T) {
	cfg := baseCfg(t)
	cfg.ThresholdShorthand = map[string]any{"metric": "score", "threshold": 0.5, "min_rows": 1}
	client := newScriptedClient()
	sinks, _ := memorySinkBinding(t)

	r, err := New(cfg, Deps{LLMClient: client, Sinks: sinks})
	require.NoError(t, err)
	require.Len(t, r.haltPlugins, 1)
	_, ok := r.haltPlugins[0].(*halt.Threshold)
	require.True(t, ok)

	batch := Batch{Rows: []map[string]any{
		{"id": "1", "value": "a"},
		{"id": "2", "value": "b"},
		{"id": "3", "value": "c"},
	}}

	payload, err := r.Run(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, payload.Results, 1)
	require.NotNil(t, payload.EarlyStop)
	assert.Equal(t, "threshold", payload.EarlyStop["plugin"])
}
