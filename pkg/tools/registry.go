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

package tools

import (
	"context"
	"fmt"

	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/observability"
	"github.com/restflow-ai/restflow/pkg/registry"
)

// Registry is the named tool map plus the wrapper chain applied
// uniformly to every execution. Built once at startup, read-mostly after.
type Registry struct {
	*registry.BaseRegistry[Tool]
	wrappers []Wrapper

	// Metrics, when set, counts dispatched tool calls.
	Metrics *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// Use appends a wrapper. Wrappers run in registration order: the first
// registered is outermost.
func (r *Registry) Use(w Wrapper) *Registry {
	r.wrappers = append(r.wrappers, w)
	return r
}

// RegisterTool adds a tool by its own name.
func (r *Registry) RegisterTool(tool Tool) error {
	return r.Register(tool.Name(), tool)
}

// Scoped returns a new registry sharing this registry's wrapper chain
// and metrics, seeded with every currently registered tool. Used to give
// one run extra tools (sub-agent spawning) without mutating the shared
// registry.
func (r *Registry) Scoped() *Registry {
	scoped := NewRegistry()
	scoped.wrappers = r.wrappers
	scoped.Metrics = r.Metrics
	for _, name := range r.Names() {
		if tool, ok := r.Get(name); ok {
			_ = scoped.RegisterTool(tool)
		}
	}
	return scoped
}

// GetTool returns a tool by name.
func (r *Registry) GetTool(name string) (Tool, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return tool, nil
}

// Definitions returns the llms definitions of all registered tools,
// optionally filtered by an allowlist (nil allows everything).
func (r *Registry) Definitions(allowed []string) []llms.ToolDefinition {
	var allowSet map[string]bool
	if allowed != nil {
		allowSet = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allowSet[name] = true
		}
	}
	var defs []llms.ToolDefinition
	for _, name := range r.Names() {
		if allowSet != nil && !allowSet[name] {
			continue
		}
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.ParametersSchema(),
		})
	}
	return defs
}

// Execute runs a tool through the wrapper chain. Input shape is checked
// against the schema's required list before dispatch; panics inside the
// tool surface as errors, never crash the worker.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolOutput, error) {
	tool, err := r.GetTool(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := ValidateRequired(tool.ParametersSchema(), args); err != nil {
		return Errorf(CategoryConfig, "invalid input for tool '%s': %v", name, err), nil
	}
	if r.Metrics != nil {
		r.Metrics.ToolCalls.Add(ctx, 1)
	}

	exec := func(ctx context.Context, args map[string]any) (output *ToolOutput, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("tool '%s' panicked: %v", name, rec)
			}
		}()
		return tool.Execute(ctx, args)
	}

	// Compose wrappers: first registered is outermost.
	for i := len(r.wrappers) - 1; i >= 0; i-- {
		wrapper := r.wrappers[i]
		next := exec
		exec = func(ctx context.Context, args map[string]any) (*ToolOutput, error) {
			return wrapper.WrapExecute(ctx, name, args, next)
		}
	}

	return exec(ctx, args)
}
