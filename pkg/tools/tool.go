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

// Package tools provides the tool registry, the wrapper (decorator)
// chain and the built-in tools. A tool is a named callable described by
// a JSON schema; the LLM decides when to invoke it and observes its
// structured output.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Category classifies tool failures for retry decisions upstream.
type Category string

const (
	CategoryNetwork Category = "network"
	CategoryConfig  Category = "config"
	CategoryServer  Category = "server"
	CategoryAuth    Category = "auth"
	CategoryOther   Category = "other"
)

// ToolOutput is the structured result of a tool execution. Errors are
// data, not Go errors: the ReAct loop renders them into tool_result
// messages so the model can react.
type ToolOutput struct {
	Success      bool     `json:"success"`
	Result       any      `json:"result,omitempty"`
	Error        string   `json:"error,omitempty"`
	Category     Category `json:"error_category,omitempty"`
	Retryable    bool     `json:"retryable,omitempty"`
	RetryAfterMS int64    `json:"retry_after_ms,omitempty"`
}

// Success builds a successful output.
func Success(result any) *ToolOutput {
	return &ToolOutput{Success: true, Result: result}
}

// Errorf builds a failed output in the given category.
func Errorf(category Category, format string, args ...any) *ToolOutput {
	return &ToolOutput{
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
		Category:  category,
		Retryable: category == CategoryNetwork || category == CategoryServer,
	}
}

// Render returns the output as a string for tool_result messages:
// the result JSON on success, "Error: ..." otherwise.
func (o *ToolOutput) Render() string {
	if !o.Success {
		return "Error: " + o.Error
	}
	switch r := o.Result.(type) {
	case string:
		return r
	default:
		data, err := json.Marshal(o.Result)
		if err != nil {
			return fmt.Sprintf("%v", o.Result)
		}
		return string(data)
	}
}

// Tool is a named callable with a JSON-schema input contract.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Description tells the LLM what the tool does.
	Description() string

	// ParametersSchema returns the JSON schema (object with properties
	// and required) describing the tool's input.
	ParametersSchema() map[string]any

	// SupportsParallel reports whether the tool may ever run alongside
	// other tools in the same dispatch batch.
	SupportsParallel() bool

	// SupportsParallelFor refines SupportsParallel per invocation; tools
	// with conflicting resources can veto specific argument sets.
	SupportsParallelFor(args map[string]any) bool

	// Execute runs the tool. A non-nil error means the substrate failed
	// (bad input shape, panic); tool-level failures go in ToolOutput.
	Execute(ctx context.Context, args map[string]any) (*ToolOutput, error)
}

// ParallelTool is a default mixin for tools that always parallelize.
type ParallelTool struct{}

// SupportsParallel implements Tool.
func (ParallelTool) SupportsParallel() bool { return true }

// SupportsParallelFor implements Tool.
func (ParallelTool) SupportsParallelFor(map[string]any) bool { return true }

// SerialTool is a default mixin for tools that never parallelize.
type SerialTool struct{}

// SupportsParallel implements Tool.
func (SerialTool) SupportsParallel() bool { return false }

// SupportsParallelFor implements Tool.
func (SerialTool) SupportsParallelFor(map[string]any) bool { return false }

// DecodeArgs unmarshals a tool's argument map into a typed params struct.
func DecodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
