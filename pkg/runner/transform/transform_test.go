package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-labs/dmp/pkg/types"
)

func TestPassthrough_CopiesConfiguredFields(t *testing.T) {
	p, err := NewPassthrough(map[string]any{"fields": []any{"content", "confidence"}})
	require.NoError(t, err)

	responses := map[string]types.LLMResponse{
		"default": {Content: "hello", Metrics: map[string]float64{"confidence": 0.8}},
	}
	derived, err := p.Transform(types.RowContext{}, responses)
	require.NoError(t, err)
	assert.Equal(t, "hello", derived["content"])
	assert.Equal(t, 0.8, derived["confidence"])
}

func TestJSONExtract_FlattensDottedPaths(t *testing.T) {
	j, err := NewJSONExtract(map[string]any{"paths": map[string]any{"label": "result.label"}})
	require.NoError(t, err)

	responses := map[string]types.LLMResponse{
		"default": {Content: `{"result": {"label": "pass"}}`},
	}
	derived, err := j.Transform(types.RowContext{}, responses)
	require.NoError(t, err)
	assert.Equal(t, "pass", derived["label"])
}

func TestJSONExtract_ErrorsOnInvalidJSON(t *testing.T) {
	j, err := NewJSONExtract(map[string]any{"paths": map[string]any{"label": "result.label"}})
	require.NoError(t, err)

	_, err = j.Transform(types.RowContext{}, map[string]types.LLMResponse{"default": {Content: "not json"}})
	assert.Error(t, err)
}
