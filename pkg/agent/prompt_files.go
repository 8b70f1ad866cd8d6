// Copyright 2025 The RestFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/restflow-ai/restflow/pkg/models"
)

// promptFrontmatter is the YAML header of an agent prompt file.
type promptFrontmatter struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Tools         []string `yaml:"tools"`
	Model         string   `yaml:"model"`
	MaxIterations int      `yaml:"max_iterations"`
	Callable      *bool    `yaml:"callable"`
	Tags          []string `yaml:"tags"`
}

// PromptFiles loads agent definitions from markdown files with YAML
// frontmatter and hot-reloads them on directory changes.
type PromptFiles struct {
	dir      string
	onChange func([]models.AgentDefinition)

	mu      sync.RWMutex
	defs    []models.AgentDefinition
	watcher *fsnotify.Watcher
}

// NewPromptFiles loads the directory and starts the watcher. onChange
// fires with the full definition set after every reload.
func NewPromptFiles(dir string, onChange func([]models.AgentDefinition)) (*PromptFiles, error) {
	pf := &PromptFiles{dir: dir, onChange: onChange}
	if err := pf.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	pf.watcher = watcher
	go pf.watch()
	return pf, nil
}

// Definitions returns the currently loaded definitions.
func (pf *PromptFiles) Definitions() []models.AgentDefinition {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	out := make([]models.AgentDefinition, len(pf.defs))
	copy(out, pf.defs)
	return out
}

// Close stops the watcher.
func (pf *PromptFiles) Close() error {
	if pf.watcher != nil {
		return pf.watcher.Close()
	}
	return nil
}

// watch debounces filesystem events into reloads.
func (pf *PromptFiles) watch() {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-pf.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, func() {
				if err := pf.reload(); err != nil {
					slog.Warn("Failed to reload agent prompts", "dir", pf.dir, "error", err)
					return
				}
				if pf.onChange != nil {
					pf.onChange(pf.Definitions())
				}
				slog.Info("Reloaded agent prompt files", "dir", pf.dir)
			})
		case err, ok := <-pf.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Agent prompt watcher error", "error", err)
		}
	}
}

// reload parses every .md file in the directory.
func (pf *PromptFiles) reload() error {
	entries, err := os.ReadDir(pf.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", pf.dir, err)
	}
	var defs []models.AgentDefinition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(pf.dir, entry.Name())
		def, err := parsePromptFile(path)
		if err != nil {
			slog.Warn("Skipping malformed agent prompt file", "path", path, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	pf.mu.Lock()
	pf.defs = defs
	pf.mu.Unlock()
	return nil
}

// parsePromptFile parses "---\nfrontmatter\n---\nsystem prompt".
func parsePromptFile(path string) (models.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.AgentDefinition{}, err
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	name := strings.TrimSuffix(filepath.Base(path), ".md")
	var fm promptFrontmatter
	body := content
	if strings.HasPrefix(content, "---\n") {
		rest := content[4:]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return models.AgentDefinition{}, fmt.Errorf("unterminated frontmatter")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
			return models.AgentDefinition{}, fmt.Errorf("invalid frontmatter: %w", err)
		}
		body = strings.TrimPrefix(rest[end+4:], "\n")
	}
	if fm.Name != "" {
		name = fm.Name
	}
	callable := true
	if fm.Callable != nil {
		callable = *fm.Callable
	}
	return models.AgentDefinition{
		ID:            name,
		Name:          name,
		Description:   fm.Description,
		SystemPrompt:  strings.TrimSpace(body),
		AllowedTools:  fm.Tools,
		DefaultModel:  fm.Model,
		MaxIterations: fm.MaxIterations,
		Callable:      callable,
		Tags:          fm.Tags,
	}, nil
}
