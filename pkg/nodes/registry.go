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

// Package nodes implements the workflow node executors: polymorphic
// dispatch over node kinds plus the concrete executors for HTTP,
// transform, print, email, Python and agent nodes. Trigger kinds are
// definition-only and pass their input through unchanged.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
)

// Executor runs one node kind.
type Executor interface {
	Kind() models.NodeKind
	Execute(ctx context.Context, node models.Node, ec *engine.ExecutionContext, input json.RawMessage) (json.RawMessage, error)
}

// Registry dispatches tasks to node executors. It implements
// engine.NodeRunner.
type Registry struct {
	executors map[models.NodeKind]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.NodeKind]Executor)}
}

// Register adds an executor for its kind.
func (r *Registry) Register(e Executor) *Registry {
	r.executors[e.Kind()] = e
	return r
}

// Run implements engine.NodeRunner: it resolves the executor for the
// task's node kind and executes it. The task input is exposed to
// interpolation as the "input" variable.
func (r *Registry) Run(ctx context.Context, task *models.WorkflowTask, ec *engine.ExecutionContext) (json.RawMessage, error) {
	node := task.Node
	if node.Kind.IsTrigger() {
		// Triggers are interpreted by the trigger manager; reaching one
		// here just forwards its input.
		if task.Input != nil {
			return task.Input, nil
		}
		return json.RawMessage(`{}`), nil
	}

	executor, ok := r.executors[node.Kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node kind %q", node.Kind)
	}
	if task.Input != nil {
		ec.SetVariable("input", task.Input)
	}
	return executor.Execute(ctx, node, ec, task.Input)
}

// decodeConfig unmarshals a node's opaque config into a typed struct,
// tolerating loosely-typed JSON (numbers as strings and vice versa).
func decodeConfig(node models.Node, out any) error {
	raw := map[string]any{}
	if len(node.Config) > 0 {
		if err := json.Unmarshal(node.Config, &raw); err != nil {
			return fmt.Errorf("node %s has malformed config: %w", node.ID, err)
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("node %s config: %w", node.ID, err)
	}
	return nil
}
