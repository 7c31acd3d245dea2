package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlice_LoadReturnsRowsAndSecurityLevel(t *testing.T) {
	s := NewSlice([]map[string]any{{"value": 1}, {"value": 2}}, "restricted")

	batch, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.Equal(t, "restricted", batch.Attributes["security_level"])
}

func TestSlice_LoadOmitsAttributesWhenSecurityLevelUnset(t *testing.T) {
	s := NewSlice([]map[string]any{{"value": 1}}, "")

	batch, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch.Attributes)
}

func TestNewSliceFromOptions_DecodesRowsAndLevel(t *testing.T) {
	s, err := NewSliceFromOptions(map[string]any{
		"rows": []any{
			map[string]any{"value": 1},
			map[string]any{"value": 2},
		},
		"security_level": "public",
	})
	require.NoError(t, err)

	batch, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Rows, 2)
	assert.Equal(t, "public", batch.Attributes["security_level"])
}

func TestCSV_LoadReadsHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	content := "name,value\nalice,1\nbob,2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := NewCSV(path, "confidential")
	batch, err := c.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, batch.Rows, 2)
	assert.Equal(t, "alice", batch.Rows[0]["name"])
	assert.Equal(t, "1", batch.Rows[0]["value"])
	assert.Equal(t, "bob", batch.Rows[1]["name"])
	assert.Equal(t, "confidential", batch.Attributes["security_level"])
}

func TestCSV_LoadOmitsAttributesWhenSecurityLevelUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nalice\n"), 0o644))

	c := NewCSV(path, "")
	batch, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch.Attributes)
}

func TestNewCSVFromOptions_RequiresPath(t *testing.T) {
	_, err := NewCSVFromOptions(map[string]any{"security_level": "public"})
	assert.Error(t, err)
}

func TestNewCSVFromOptions_DecodesPathAndLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nalice\n"), 0o644))

	c, err := NewCSVFromOptions(map[string]any{"path": path, "security_level": "internal"})
	require.NoError(t, err)

	batch, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "internal", batch.Attributes["security_level"])
}
