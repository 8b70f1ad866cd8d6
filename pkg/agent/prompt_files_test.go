package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePrompt = `---
name: triager
description: Triage incoming reports.
tools:
  - http_request
  - read_document
model: fast
max_iterations: 20
tags: [ops]
---
You are a triage agent. Sort reports by severity.
`

func TestParsePromptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triager.md")
	require.NoError(t, os.WriteFile(path, []byte(samplePrompt), 0o600))

	def, err := parsePromptFile(path)
	require.NoError(t, err)
	assert.Equal(t, "triager", def.Name)
	assert.Equal(t, "Triage incoming reports.", def.Description)
	assert.Equal(t, []string{"http_request", "read_document"}, def.AllowedTools)
	assert.Equal(t, "fast", def.DefaultModel)
	assert.Equal(t, 20, def.MaxIterations)
	assert.True(t, def.Callable)
	assert.Equal(t, "You are a triage agent. Sort reports by severity.", def.SystemPrompt)
}

func TestParsePromptFileWithoutFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.md")
	require.NoError(t, os.WriteFile(path, []byte("Just a prompt body."), 0o600))

	def, err := parsePromptFile(path)
	require.NoError(t, err)
	assert.Equal(t, "plain", def.Name)
	assert.Equal(t, "Just a prompt body.", def.SystemPrompt)
}

func TestDefinitionsMergeFilesOverPresets(t *testing.T) {
	dir := t.TempDir()
	override := `---
name: researcher
description: Custom researcher.
---
Custom prompt.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "researcher.md"), []byte(override), 0o600))

	defs, err := NewDefinitions(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = defs.Close() })

	def, err := defs.Lookup("researcher")
	require.NoError(t, err)
	assert.Equal(t, "Custom researcher.", def.Description)
	assert.Equal(t, "Custom prompt.", def.SystemPrompt)

	// Presets remain available.
	_, err = defs.Lookup("coder")
	assert.NoError(t, err)
}

func TestLookupByNameCaseInsensitive(t *testing.T) {
	defs, err := NewDefinitions("")
	require.NoError(t, err)
	def, err := defs.Lookup("Researcher")
	require.NoError(t, err)
	assert.Equal(t, "researcher", def.ID)
}

func TestLookupUnknown(t *testing.T) {
	defs, err := NewDefinitions("")
	require.NoError(t, err)
	_, err = defs.Lookup("nope")
	assert.Error(t, err)
}
