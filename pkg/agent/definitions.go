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

// Package agent manages agent definitions: built-in presets plus
// markdown prompt files from the agents directory, hot-reloaded on
// change.
package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/restflow-ai/restflow/pkg/models"
)

// presets are the built-in specialized agents available for spawning.
var presets = []models.AgentDefinition{
	{
		ID:           "researcher",
		Name:         "researcher",
		Description:  "Investigates questions using web and document tools and reports findings.",
		SystemPrompt: "You are a research agent. Gather information with the available tools, cross-check sources and produce a concise, sourced summary.",
		AllowedTools: []string{"http_request", "read_document", "vision"},
		Callable:     true,
		Tags:         []string{"builtin"},
	},
	{
		ID:           "coder",
		Name:         "coder",
		Description:  "Writes and runs code to solve concrete programming tasks.",
		SystemPrompt: "You are a coding agent. Break the task into steps, use the process tool to run commands, and verify your work before answering.",
		AllowedTools: []string{"process", "http_request"},
		Callable:     true,
		Tags:         []string{"builtin"},
	},
	{
		ID:           "reviewer",
		Name:         "reviewer",
		Description:  "Reviews text or code for problems and suggests improvements.",
		SystemPrompt: "You are a review agent. Read the material carefully, list concrete issues ordered by severity and propose fixes.",
		Callable:     true,
		Tags:         []string{"builtin"},
	},
	{
		ID:           "writer",
		Name:         "writer",
		Description:  "Produces polished prose from notes, outlines or data.",
		SystemPrompt: "You are a writing agent. Turn the provided material into clear, well-structured text matching the requested tone.",
		Callable:     true,
		Tags:         []string{"builtin"},
	},
	{
		ID:           "analyst",
		Name:         "analyst",
		Description:  "Analyzes structured data and summarizes patterns.",
		SystemPrompt: "You are an analysis agent. Examine the data with the available tools and report the patterns that matter, with numbers.",
		AllowedTools: []string{"read_document", "http_request"},
		Callable:     true,
		Tags:         []string{"builtin"},
	},
}

// Definitions resolves agent definitions by id or name. It merges the
// built-in presets with prompt files; files win on name collisions.
type Definitions struct {
	mu    sync.RWMutex
	byKey map[string]models.AgentDefinition
	files *PromptFiles
}

// NewDefinitions creates a registry seeded with the presets.
// promptDir may be empty to skip file loading.
func NewDefinitions(promptDir string) (*Definitions, error) {
	d := &Definitions{byKey: make(map[string]models.AgentDefinition)}
	for _, def := range presets {
		d.byKey[def.ID] = def
	}
	if promptDir != "" {
		files, err := NewPromptFiles(promptDir, d.applyFileDefinitions)
		if err != nil {
			return nil, err
		}
		d.files = files
		d.applyFileDefinitions(files.Definitions())
	}
	return d, nil
}

// applyFileDefinitions overlays prompt-file definitions onto the preset
// set.
func (d *Definitions) applyFileDefinitions(defs []models.AgentDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Rebuild from presets so deleted files disappear.
	d.byKey = make(map[string]models.AgentDefinition, len(presets)+len(defs))
	for _, def := range presets {
		d.byKey[def.ID] = def
	}
	for _, def := range defs {
		d.byKey[def.ID] = def
	}
}

// Lookup implements subagent.DefinitionLookup.
func (d *Definitions) Lookup(idOrName string) (models.AgentDefinition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if def, ok := d.byKey[idOrName]; ok {
		return def, nil
	}
	lower := strings.ToLower(idOrName)
	for _, def := range d.byKey {
		if strings.ToLower(def.Name) == lower {
			return def, nil
		}
	}
	return models.AgentDefinition{}, fmt.Errorf("agent definition %q not found", idOrName)
}

// Callable implements subagent.DefinitionLookup.
func (d *Definitions) Callable() []models.AgentDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.AgentDefinition
	for _, def := range d.byKey {
		if def.Callable {
			out = append(out, def)
		}
	}
	return out
}

// List returns every known definition.
func (d *Definitions) List() []models.AgentDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.AgentDefinition, 0, len(d.byKey))
	for _, def := range d.byKey {
		out = append(out, def)
	}
	return out
}

// Close stops the file watcher, if any.
func (d *Definitions) Close() error {
	if d.files != nil {
		return d.files.Close()
	}
	return nil
}
