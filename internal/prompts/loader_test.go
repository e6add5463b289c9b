package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPromptsCoverEveryCapability(t *testing.T) {
	loader, err := NewPromptLoader("")
	require.NoError(t, err)

	assert.Equal(t, []string{Generator, Implementer, Judge, Planner, Reviewer}, loader.ListPrompts())

	for _, name := range loader.ListPrompts() {
		tmpl, err := loader.GetPrompt(name)
		require.NoError(t, err)
		assert.NotEmpty(t, tmpl.Content, name)
		assert.Equal(t, "embedded", tmpl.Source)
	}
}

func TestRenderPromptSubstitutesVariables(t *testing.T) {
	loader, err := NewPromptLoader("")
	require.NoError(t, err)

	rendered, err := loader.RenderPrompt(Judge, map[string]string{"Ratings": "- Alpha\n- Beta"})
	require.NoError(t, err)
	assert.Contains(t, rendered, "- Alpha\n- Beta")
	assert.NotContains(t, rendered, "{{Ratings}}")
}

func TestOverrideDirReplacesEmbeddedPrompt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "planner.md"), []byte("  custom plan prompt\n"), 0o644))

	loader, err := NewPromptLoader(dir)
	require.NoError(t, err)

	tmpl, err := loader.GetPrompt(Planner)
	require.NoError(t, err)
	assert.Equal(t, "custom plan prompt", tmpl.Content)
	assert.Equal(t, filepath.Join(dir, "planner.md"), tmpl.Source)
}

func TestGetPromptUnknown(t *testing.T) {
	loader, err := NewPromptLoader("")
	require.NoError(t, err)

	_, err = loader.GetPrompt("missing")
	require.Error(t, err)
}
