package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/config"
)

func TestCheckpoint_DisabledNeverMarksOrSees(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.jsonl")

	cp, err := NewCheckpoint(config.CheckpointConfig{Enabled: false, Path: path, Field: "id"})
	require.NoError(t, err)

	require.NoError(t, cp.Mark("row-1"))
	assert.False(t, cp.Seen("row-1"))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCheckpoint_LoadsExistingFileIgnoringBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("row-1\n\nrow-2\n"), 0o644))

	cp, err := NewCheckpoint(config.CheckpointConfig{Enabled: true, Path: path, Field: "id"})
	require.NoError(t, err)

	assert.True(t, cp.Seen("row-1"))
	assert.True(t, cp.Seen("row-2"))
	assert.False(t, cp.Seen("row-3"))
}

func TestCheckpoint_MarkCreatesParentDirAndAppendsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "checkpoint.jsonl")

	cp, err := NewCheckpoint(config.CheckpointConfig{Enabled: true, Path: path, Field: "id"})
	require.NoError(t, err)

	require.NoError(t, cp.Mark("row-1"))
	require.NoError(t, cp.Mark("row-1")) // idempotent
	require.NoError(t, cp.Mark("row-2"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "row-1\nrow-2\n", string(data))
	assert.True(t, cp.Seen("row-1"))
	assert.True(t, cp.Seen("row-2"))
}
