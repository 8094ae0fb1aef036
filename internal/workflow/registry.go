// Package workflow provides YAML workflow discovery, the workflow-aware
// router prompt, invocation detection, and step execution.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/archonhq/archon/internal/common/logger"
)

// MetadataDirName is the orchestration metadata directory in a repo root.
const MetadataDirName = ".archon"

// Step is one ordered workflow step referencing a command template.
type Step struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

// Definition is a discovered workflow. Read-only, scoped to one cwd.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Registry discovers workflow definitions under <cwd>/.archon/workflows.
type Registry struct {
	logger *logger.Logger
}

// NewRegistry creates a workflow registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{logger: log.WithFields(zap.String("component", "workflow_registry"))}
}

// Discover parses every *.yaml / *.yml file in the workflows directory.
// A missing directory yields an empty list, not an error. Unparseable
// files are skipped with a warning.
func (r *Registry) Discover(cwd string) ([]Definition, error) {
	dir := filepath.Join(cwd, MetadataDirName, "workflows")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	var definitions []Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow file %s: %w", entry.Name(), err)
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			r.logger.Warn("Skipping unparseable workflow file",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		if def.Name == "" {
			// Fall back to the file name so a workflow is still addressable
			def.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		definitions = append(definitions, def)
	}
	return definitions, nil
}

// Find returns the definition with the given name, or nil.
func Find(definitions []Definition, name string) *Definition {
	for i := range definitions {
		if definitions[i].Name == name {
			return &definitions[i]
		}
	}
	return nil
}
