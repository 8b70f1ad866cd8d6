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

package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
)

// TransformConfig configures a data_transform node. Exactly one mode is
// active:
//
//	project:  keep only Fields of the input object
//	template: render every Template value through interpolation
//	math:     apply Op with Value to the numeric input Field
type TransformConfig struct {
	Mode     string            `json:"mode"`
	Fields   []string          `json:"fields,omitempty"`
	Template map[string]string `json:"template,omitempty"`
	// math mode
	Field string  `json:"field,omitempty"`
	Op    string  `json:"op,omitempty"` // add, subtract, multiply, divide
	Value float64 `json:"value,omitempty"`
	As    string  `json:"as,omitempty"`
}

// TransformExecutor applies a declarative transformation to its input.
// Deterministic, no I/O.
type TransformExecutor struct{}

// Kind implements Executor.
func (TransformExecutor) Kind() models.NodeKind { return models.NodeDataTransform }

// Execute implements Executor.
func (TransformExecutor) Execute(_ context.Context, node models.Node, ec *engine.ExecutionContext, input json.RawMessage) (json.RawMessage, error) {
	var cfg TransformConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case "project":
		return projectFields(input, cfg.Fields)
	case "template":
		out := make(map[string]string, len(cfg.Template))
		for key, tmpl := range cfg.Template {
			out[key] = ec.Interpolate(tmpl)
		}
		return json.Marshal(out)
	case "math":
		return applyMath(input, cfg)
	default:
		return nil, fmt.Errorf("unknown transform mode %q", cfg.Mode)
	}
}

func projectFields(input json.RawMessage, fields []string) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &obj); err != nil {
			return nil, fmt.Errorf("transform input is not an object: %w", err)
		}
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if value, ok := obj[field]; ok {
			out[field] = value
		}
	}
	return json.Marshal(out)
}

func applyMath(input json.RawMessage, cfg TransformConfig) (json.RawMessage, error) {
	if cfg.Field == "" {
		return nil, fmt.Errorf("math transform requires a field")
	}
	obj := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &obj); err != nil {
			return nil, fmt.Errorf("transform input is not an object: %w", err)
		}
	}
	// Webhook inputs nest the payload under "body".
	source := obj
	if body, ok := obj["body"].(map[string]any); ok {
		if _, direct := obj[cfg.Field]; !direct {
			source = body
		}
	}
	raw, ok := source[cfg.Field]
	if !ok {
		return nil, fmt.Errorf("field %q not present in transform input", cfg.Field)
	}
	operand, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("field %q is not numeric", cfg.Field)
	}

	var result float64
	switch cfg.Op {
	case "add":
		result = operand + cfg.Value
	case "subtract":
		result = operand - cfg.Value
	case "multiply":
		result = operand * cfg.Value
	case "divide":
		if cfg.Value == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = operand / cfg.Value
	default:
		return nil, fmt.Errorf("unknown math op %q", cfg.Op)
	}

	as := cfg.As
	if as == "" {
		as = "result"
	}
	return json.Marshal(map[string]any{as: result})
}
