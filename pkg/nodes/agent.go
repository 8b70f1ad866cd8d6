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
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/models"
)

// AgentConfig configures an agent node: an ad-hoc single-shot LLM call.
type AgentConfig struct {
	Provider     string   `json:"provider,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Prompt       string   `json:"prompt"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// AgentExecutor performs a single completion with the configured
// provider and returns the final assistant text.
type AgentExecutor struct {
	providers *llms.Registry
	// defaultProvider is used when the node names none.
	defaultProvider string
}

// NewAgentExecutor creates the executor.
func NewAgentExecutor(providers *llms.Registry, defaultProvider string) *AgentExecutor {
	return &AgentExecutor{providers: providers, defaultProvider: defaultProvider}
}

// Kind implements Executor.
func (*AgentExecutor) Kind() models.NodeKind { return models.NodeAgent }

// Execute implements Executor.
func (e *AgentExecutor) Execute(ctx context.Context, node models.Node, ec *engine.ExecutionContext, _ json.RawMessage) (json.RawMessage, error) {
	var cfg AgentConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	providerName := cfg.Provider
	if providerName == "" {
		providerName = e.defaultProvider
	}
	provider, err := e.providers.GetProvider(providerName)
	if err != nil {
		return nil, err
	}

	var messages []llms.Message
	if cfg.SystemPrompt != "" {
		messages = append(messages, llms.SystemMessage(ec.Interpolate(cfg.SystemPrompt)))
	}
	messages = append(messages, llms.UserMessage(ec.Interpolate(cfg.Prompt)))

	completion, err := provider.Generate(ctx, messages, nil, llms.Options{Temperature: cfg.Temperature})
	if err != nil {
		return nil, fmt.Errorf("agent node LLM call failed: %w", err)
	}
	return json.Marshal(map[string]any{
		"response": completion.Text,
		"tokens":   completion.Tokens,
	})
}
