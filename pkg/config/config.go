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

// Package config loads the daemon configuration: YAML with ${VAR}
// expansion, .env loading and SetDefaults/Validate on every section.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/logger"
	"github.com/restflow-ai/restflow/pkg/tools"
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// WorkersConfig sizes the two worker pools.
type WorkersConfig struct {
	WorkflowWorkers     int `yaml:"workflow_workers"`
	AgentWorkers        int `yaml:"agent_workers"`
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`
}

// ObservabilityConfig tunes telemetry.
type ObservabilityConfig struct {
	DebugTraces bool `yaml:"debug_traces"`
}

// Config is the daemon configuration.
type Config struct {
	Server          ServerConfig                   `yaml:"server"`
	Workers         WorkersConfig                  `yaml:"workers"`
	LLMs            map[string]llms.ProviderConfig `yaml:"llms"`
	DefaultProvider string                         `yaml:"default_provider"`
	MCP             []tools.MCPConfig              `yaml:"mcp"`
	Log             logger.Config                  `yaml:"log"`
	Observability   ObservabilityConfig            `yaml:"observability"`
}

// Load reads the config file (optional), after loading .env when
// present. Every string field supports ${VAR} / ${VAR:-default}.
func Load(path string) (*Config, error) {
	// .env is a convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		expanded := ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8089"
	}
	if c.Workers.WorkflowWorkers <= 0 {
		c.Workers.WorkflowWorkers = 4
	}
	if c.Workers.AgentWorkers <= 0 {
		c.Workers.AgentWorkers = 4
	}
	if c.Workers.MaxConcurrentAgents <= 0 {
		c.Workers.MaxConcurrentAgents = c.Workers.AgentWorkers
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.LLMs == nil {
		c.LLMs = map[string]llms.ProviderConfig{}
	}
	// A zero-config setup gets an OpenAI provider from the environment.
	if len(c.LLMs) == 0 {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLMs["openai"] = llms.ProviderConfig{
				Type: "openai", Model: "gpt-4o-mini", APIKey: key,
			}
		}
	}
	if c.DefaultProvider == "" {
		for name := range c.LLMs {
			c.DefaultProvider = name
			break
		}
	}
}

// Validate rejects inconsistent configuration.
func (c *Config) Validate() error {
	if c.DefaultProvider != "" {
		if _, ok := c.LLMs[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not a configured LLM", c.DefaultProvider)
		}
	}
	for name, llm := range c.LLMs {
		if llm.Type == "" {
			return fmt.Errorf("llm %q requires a type", name)
		}
	}
	return nil
}
