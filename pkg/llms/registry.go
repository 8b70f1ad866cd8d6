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
	"fmt"

	"github.com/restflow-ai/restflow/pkg/registry"
)

// ProviderConfig configures one named provider instance.
type ProviderConfig struct {
	Type   string `json:"type" yaml:"type"` // openai, anthropic, gemini, mock
	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
}

// Registry manages named LLM provider instances.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// CreateFromConfig builds, registers and returns a provider.
func (r *Registry) CreateFromConfig(name string, cfg ProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}

	var provider Provider
	var err error
	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Host)
	case "anthropic":
		provider, err = NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.Host)
	case "gemini":
		provider, err = NewGeminiProvider(cfg.APIKey, cfg.Model)
	case "mock":
		provider = NewMockProvider(cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider %s: %w", name, err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetProvider returns a registered provider by name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	provider, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("LLM provider '%s' not found", name)
	}
	return provider, nil
}
