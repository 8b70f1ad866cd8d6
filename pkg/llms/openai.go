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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/restflow-ai/restflow/pkg/httpclient"
)

const openAIDefaultHost = "https://api.openai.com/v1"

// OpenAIProvider talks to any OpenAI-compatible chat-completions API.
type OpenAIProvider struct {
	apiKey string
	model  string
	host   string
	client *httpclient.Client
}

// NewOpenAIProvider creates a provider. host may be empty for the
// default endpoint, or any compatible base URL.
func NewOpenAIProvider(apiKey, model, host string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key. Set OPENAI_API_KEY or store it via 'restflow secret set'")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if host == "" {
		host = openAIDefaultHost
	}
	return &OpenAIProvider{
		apiKey: apiKey,
		model:  model,
		host:   strings.TrimSuffix(host, "/"),
		client: httpclient.New(),
	}, nil
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
		Delta   openAIMessage `json:"delta"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options, stream bool) openAIRequest {
	req := openAIRequest{
		Model:       p.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
		Stream:      stream,
	}
	for _, m := range messages {
		om := openAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			args := tc.RawArgs
			if args == "" {
				raw, _ := json.Marshal(tc.Arguments)
				args = string(raw)
			}
			otc := openAIToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = args
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		req.Messages = append(req.Messages, om)
	}
	for _, t := range tools {
		ot := openAITool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, ot)
	}
	return req
}

func convertToolCalls(calls []openAIToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		tc := ToolCall{ID: c.ID, Name: c.Function.Name, RawArgs: c.Function.Arguments}
		if c.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(c.Function.Arguments), &tc.Arguments)
		}
		if tc.Arguments == nil {
			tc.Arguments = map[string]any{}
		}
		out = append(out, tc)
	}
	return out
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error) {
	var resp openAIResponse
	err := p.client.PostJSON(ctx, p.host+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		p.buildRequest(messages, tools, opts, false), &resp)
	if err != nil {
		return nil, fmt.Errorf("OpenAI request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices")
	}
	msg := resp.Choices[0].Message
	return &Completion{
		Text:      msg.Content,
		ToolCalls: convertToolCalls(msg.ToolCalls),
		Tokens:    resp.Usage.TotalTokens,
	}, nil
}

// GenerateStreaming implements Provider using SSE.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, tools, opts, true))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return nil, fmt.Errorf("OpenAI request failed: %w",
			&httpclient.StatusError{Code: resp.StatusCode, Body: buf.String()})
	}

	out := make(chan StreamChunk, 64)
	go p.consumeStream(resp, out)
	return out, nil
}

// consumeStream parses the SSE body, accumulating tool-call argument
// deltas until a call is complete.
func (p *OpenAIProvider) consumeStream(resp *http.Response, out chan<- StreamChunk) {
	defer close(out)
	defer func() { _ = resp.Body.Close() }()

	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	calls := map[int]*partialCall{}
	totalTokens := 0

	flushCalls := func() {
		for i := 0; i < len(calls); i++ {
			pc, ok := calls[i]
			if !ok {
				continue
			}
			tc := &ToolCall{ID: pc.id, Name: pc.name, RawArgs: pc.args.String(), Arguments: map[string]any{}}
			_ = json.Unmarshal([]byte(pc.args.String()), &tc.Arguments)
			out <- StreamChunk{Type: "tool_call", ToolCall: tc}
		}
		calls = map[int]*partialCall{}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				out <- StreamChunk{Type: "text", Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &partialCall{}
					calls[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				flushCalls()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Type: "error", Err: fmt.Errorf("stream read failed: %w", err)}
		return
	}
	flushCalls()
	out <- StreamChunk{Type: "done", Tokens: totalTokens}
}

// ModelName implements Provider.
func (p *OpenAIProvider) ModelName() string { return p.model }

// Close implements Provider.
func (p *OpenAIProvider) Close() error { return nil }
