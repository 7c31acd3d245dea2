package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_AutoConvertsSingleBraces(t *testing.T) {
	c := NewCompiler()
	tmpl, err := c.Compile("test", "Classify: {text} for {id}", nil)
	require.NoError(t, err)

	out, err := tmpl.Render(map[string]any{"text": "hello", "id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "Classify: hello for 42", out)
}

func TestCompile_LeavesExistingTemplateSyntaxUntouched(t *testing.T) {
	c := NewCompiler()
	tmpl, err := c.Compile("test", "{{if .flag}}yes{{else}}no{{end}}", nil)
	require.NoError(t, err)

	out, err := tmpl.Render(map[string]any{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
}

func TestCompile_RequiredExcludesDefaults(t *testing.T) {
	c := NewCompiler()
	tmpl, err := c.Compile("test", "{greeting}, {name}", map[string]any{"greeting": "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, tmpl.Required)
}

func TestCompile_InvalidTemplateReturnsValidationError(t *testing.T) {
	c := NewCompiler()
	_, err := c.Compile("test", "{{.broken", nil)
	require.Error(t, err)
	var valErr *PromptValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestRender_MissingVariableReturnsRenderingError(t *testing.T) {
	c := NewCompiler()
	tmpl, err := c.Compile("test", "Hello {name}", nil)
	require.NoError(t, err)

	_, err = tmpl.Render(map[string]any{})
	require.Error(t, err)
	var renderErr *PromptRenderingError
	require.ErrorAs(t, err, &renderErr)
	assert.Contains(t, renderErr.Missing, "name")
}
