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

package llms

import (
	"context"
	"fmt"
	"sync"
)

// MockStep scripts one completion of a MockProvider.
type MockStep struct {
	Text      string
	ToolCalls []ToolCall
	Tokens    int
	Err       error
}

// MockProvider replays scripted steps; once the script is exhausted it
// keeps returning the last step. Used throughout the tests.
type MockProvider struct {
	mu    sync.Mutex
	model string
	steps []MockStep
	index int
	// Calls records the messages of every Generate invocation.
	Calls [][]Message
}

// NewMockProvider creates a provider that answers "done" forever.
func NewMockProvider(model string) *MockProvider {
	if model == "" {
		model = "mock-model"
	}
	return &MockProvider{
		model: model,
		steps: []MockStep{{Text: "done", Tokens: 1}},
	}
}

// NewScriptedProvider creates a provider replaying the given steps.
func NewScriptedProvider(steps ...MockStep) *MockProvider {
	return &MockProvider{model: "mock-model", steps: steps}
}

// Generate implements Provider.
func (p *MockProvider) Generate(_ context.Context, messages []Message, _ []ToolDefinition, _ Options) (*Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]Message, len(messages))
	copy(snapshot, messages)
	p.Calls = append(p.Calls, snapshot)

	if len(p.steps) == 0 {
		return nil, fmt.Errorf("mock provider has no scripted steps")
	}
	step := p.steps[min(p.index, len(p.steps)-1)]
	p.index++
	if step.Err != nil {
		return nil, step.Err
	}
	tokens := step.Tokens
	if tokens == 0 {
		tokens = 1
	}
	return &Completion{Text: step.Text, ToolCalls: step.ToolCalls, Tokens: tokens}, nil
}

// GenerateStreaming implements Provider by chunking the scripted step.
func (p *MockProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		completion, err := p.Generate(ctx, messages, tools, opts)
		if err != nil {
			out <- StreamChunk{Type: "error", Err: err}
			return
		}
		if completion.Text != "" {
			out <- StreamChunk{Type: "text", Text: completion.Text}
		}
		for i := range completion.ToolCalls {
			out <- StreamChunk{Type: "tool_call", ToolCall: &completion.ToolCalls[i]}
		}
		out <- StreamChunk{Type: "done", Tokens: completion.Tokens}
	}()
	return out, nil
}

// CallCount returns how many completions were requested.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// ModelName implements Provider.
func (p *MockProvider) ModelName() string { return p.model }

// Close implements Provider.
func (p *MockProvider) Close() error { return nil }
