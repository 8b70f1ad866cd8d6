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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/restflow-ai/restflow/pkg/httpclient"
)

const (
	anthropicDefaultHost = "https://api.anthropic.com/v1"
	anthropicVersion     = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey string
	model  string
	host   string
	client *httpclient.Client
}

// NewAnthropicProvider creates a provider.
func NewAnthropicProvider(apiKey, model, host string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Anthropic API key. Set ANTHROPIC_API_KEY or store it via 'restflow secret set'")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if host == "" {
		host = anthropicDefaultHost
	}
	return &AnthropicProvider{
		apiKey: apiKey,
		model:  model,
		host:   strings.TrimSuffix(host, "/"),
		client: httpclient.New(),
	}, nil
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// buildRequest splits the system prompt out and folds tool results into
// user-role tool_result blocks, per the Messages API contract.
func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options) anthropicRequest {
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	req := anthropicRequest{
		Model:       p.model,
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens,
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
		case RoleAssistant:
			content := []anthropicContent{}
			if m.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicContent{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
				})
			}
			req.Messages = append(req.Messages, anthropicMessage{Role: "assistant", Content: content})
		case RoleTool:
			req.Messages = append(req.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
				}},
			})
		default:
			req.Messages = append(req.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
		}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return req
}

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error) {
	var resp anthropicResponse
	err := p.client.PostJSON(ctx, p.host+"/messages", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}, p.buildRequest(messages, tools, opts), &resp)
	if err != nil {
		return nil, fmt.Errorf("Anthropic request failed: %w", err)
	}

	completion := &Completion{Tokens: resp.Usage.InputTokens + resp.Usage.OutputTokens}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			completion.Text += block.Text
		case "tool_use":
			raw, _ := json.Marshal(block.Input)
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID: block.ID, Name: block.Name, Arguments: block.Input, RawArgs: string(raw),
			})
		}
	}
	return completion, nil
}

// GenerateStreaming implements Provider by emitting the full completion
// as one chunk; the Messages API SSE dialect is intentionally not
// reimplemented here.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
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

// ModelName implements Provider.
func (p *AnthropicProvider) ModelName() string { return p.model }

// Close implements Provider.
func (p *AnthropicProvider) Close() error { return nil }
