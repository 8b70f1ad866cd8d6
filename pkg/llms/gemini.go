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

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiProvider talks to Google Gemini through the official genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a provider.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Gemini API key. Set GEMINI_API_KEY or store it via 'restflow secret set'")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// buildRequest converts messages to genai contents plus the system
// instruction, and tools to function declarations.
func (p *GeminiProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}

	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if config.SystemInstruction == nil {
				config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			} else {
				config.SystemInstruction.Parts = append(config.SystemInstruction.Parts,
					&genai.Part{Text: m.Content})
			}
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments},
				})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.Name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	if len(tools) > 0 {
		tool := &genai.Tool{}
		for _, t := range tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		config.Tools = []*genai.Tool{tool}
	}
	return contents, config
}

// toGenaiSchema converts a JSON schema map to the SDK's schema type,
// covering the object/array/scalar subset tool schemas use.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	} else if required, ok := schema["required"].([]string); ok {
		s.Required = required
	}
	return s
}

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error) {
	contents, config := p.buildRequest(messages, tools, opts)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}

	completion := &Completion{}
	if resp.UsageMetadata != nil {
		completion.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				completion.Text += part.Text
			}
			if part.FunctionCall != nil {
				raw, _ := json.Marshal(part.FunctionCall.Args)
				completion.ToolCalls = append(completion.ToolCalls, ToolCall{
					ID:        uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
					RawArgs:   string(raw),
				})
			}
		}
	}
	return completion, nil
}

// GenerateStreaming implements Provider via the SDK stream; text deltas
// are forwarded as they arrive, tool calls when complete.
func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	contents, config := p.buildRequest(messages, tools, opts)
	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		tokens := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				out <- StreamChunk{Type: "error", Err: fmt.Errorf("Gemini streaming error: %w", err)}
				return
			}
			if resp.UsageMetadata != nil {
				tokens = int(resp.UsageMetadata.TotalTokenCount)
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						out <- StreamChunk{Type: "text", Text: part.Text}
					}
					if part.FunctionCall != nil {
						raw, _ := json.Marshal(part.FunctionCall.Args)
						out <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{
							ID:        uuid.NewString(),
							Name:      part.FunctionCall.Name,
							Arguments: part.FunctionCall.Args,
							RawArgs:   string(raw),
						}}
					}
				}
			}
		}
		out <- StreamChunk{Type: "done", Tokens: tokens}
	}()
	return out, nil
}

// ModelName implements Provider.
func (p *GeminiProvider) ModelName() string { return p.model }

// Close implements Provider.
func (p *GeminiProvider) Close() error { return nil }
