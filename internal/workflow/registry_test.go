package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archonhq/archon/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func writeWorkflowFile(t *testing.T, cwd, name, content string) {
	t.Helper()
	dir := filepath.Join(cwd, MetadataDirName, "workflows")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDiscoverParsesDefinitions(t *testing.T) {
	cwd := t.TempDir()
	writeWorkflowFile(t, cwd, "feature.yaml", `name: feature
description: Plan and build a feature
steps:
  - name: Plan
    command: plan
  - name: Build
    command: execute
`)
	writeWorkflowFile(t, cwd, "bugfix.yml", `name: bugfix
steps:
  - command: fix
`)
	writeWorkflowFile(t, cwd, "notes.txt", "not a workflow")

	registry := NewRegistry(testLogger(t))
	definitions, err := registry.Discover(cwd)
	require.NoError(t, err)
	require.Len(t, definitions, 2)

	feature := Find(definitions, "feature")
	require.NotNil(t, feature)
	assert.Equal(t, "Plan and build a feature", feature.Description)
	require.Len(t, feature.Steps, 2)
	assert.Equal(t, "plan", feature.Steps[0].Command)
	assert.Equal(t, "execute", feature.Steps[1].Command)
}

func TestDiscoverMissingDirectoryIsEmpty(t *testing.T) {
	registry := NewRegistry(testLogger(t))
	definitions, err := registry.Discover(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, definitions)
}

func TestDiscoverSkipsUnparseableFiles(t *testing.T) {
	cwd := t.TempDir()
	writeWorkflowFile(t, cwd, "broken.yaml", "name: [unclosed")
	writeWorkflowFile(t, cwd, "good.yaml", "name: good\nsteps:\n  - command: plan\n")

	registry := NewRegistry(testLogger(t))
	definitions, err := registry.Discover(cwd)
	require.NoError(t, err)
	require.Len(t, definitions, 1)
	assert.Equal(t, "good", definitions[0].Name)
}

func TestDiscoverFallsBackToFileName(t *testing.T) {
	cwd := t.TempDir()
	writeWorkflowFile(t, cwd, "release.yaml", "steps:\n  - command: ship\n")

	registry := NewRegistry(testLogger(t))
	definitions, err := registry.Discover(cwd)
	require.NoError(t, err)
	require.Len(t, definitions, 1)
	assert.Equal(t, "release", definitions[0].Name)
}

func TestWorkflowNames(t *testing.T) {
	cwd := t.TempDir()
	writeWorkflowFile(t, cwd, "feature.yaml", "name: feature\n")
	writeWorkflowFile(t, cwd, "bugfix.yaml", "name: bugfix\n")

	registry := NewRegistry(testLogger(t))
	names, err := registry.WorkflowNames(cwd)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"feature", "bugfix"}, names)
}

func TestFindUnknownName(t *testing.T) {
	definitions := []Definition{{Name: "feature"}}
	assert.Nil(t, Find(definitions, "missing"))
}
