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

// Package reasoning implements the ReAct agent executor: the loop that
// alternates LLM inference with tool invocation under resource
// guardrails, with checkpointing, cancellation, steering and stuck
// detection.
package reasoning

import (
	"context"
	"time"
)

// Defaults for AgentConfig.
const (
	DefaultMaxIterations       = 100
	DefaultToolTimeout         = 300 * time.Second
	DefaultMaxToolResultLength = 4000
	DefaultContextWindow       = 128_000
	DefaultMaxToolConcurrency  = 100
)

// CheckpointPolicyKind discriminates checkpoint persistence frequency.
type CheckpointPolicyKind string

const (
	// CheckpointPerTurn persists after each ReAct turn.
	CheckpointPerTurn CheckpointPolicyKind = "per_turn"
	// CheckpointPeriodic persists every Interval turns.
	CheckpointPeriodic CheckpointPolicyKind = "periodic"
	// CheckpointOnComplete persists only on terminal completion.
	CheckpointOnComplete CheckpointPolicyKind = "on_complete"
)

// CheckpointPolicy is the persistence frequency for run checkpoints.
type CheckpointPolicy struct {
	Kind     CheckpointPolicyKind
	Interval int
}

// DefaultCheckpointPolicy persists every 5 turns.
func DefaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{Kind: CheckpointPeriodic, Interval: 5}
}

// CheckpointFunc persists an agent state snapshot. It runs asynchronously
// with fire-and-forget-with-error-logging semantics; a slow callback
// never blocks the loop past its own timeout.
type CheckpointFunc func(ctx context.Context, state *AgentState) error

// MessageDrain returns pending user messages for the run's task; drained
// at suspension points and appended as synthetic user messages.
type MessageDrain func(ctx context.Context) []string

// AgentConfig carries everything one run needs.
type AgentConfig struct {
	// Goal is the user task; it becomes the first user message.
	Goal string
	// SystemPrompt is the run's system message.
	SystemPrompt string
	// MaxIterations bounds the think/act loop.
	MaxIterations int
	// Temperature overrides the model default when non-nil.
	Temperature *float64
	// MaxOutputTokens bounds each completion when positive.
	MaxOutputTokens int
	// ToolTimeout is the wrapper timeout per tool call; configure it >=
	// any tool-internal timeout plus a small buffer.
	ToolTimeout time.Duration
	// MaxToolResultLength truncates observations.
	MaxToolResultLength int
	// ContextWindow is the model context size in tokens.
	ContextWindow int
	// ResourceLimits guard the run.
	ResourceLimits ResourceLimits
	// Depth is the sub-agent nesting depth this run starts at.
	Depth int
	// Stuck enables repetition detection when non-nil.
	Stuck *StuckConfig
	// MaxToolConcurrency bounds simultaneous tool executions.
	MaxToolConcurrency int
	// AllowedTools filters the registry; nil allows every tool.
	AllowedTools []string
	// Checkpoint policy and callback; no callback disables checkpoints.
	CheckpointPolicy CheckpointPolicy
	Checkpoint       CheckpointFunc
	// Cancel is the cooperative cancellation token.
	Cancel *CancelToken
	// Steer is the bounded channel of mid-run instructions.
	Steer <-chan SteerMessage
	// Messages drains pending user messages persisted for the task.
	Messages MessageDrain
	// Router switches providers between turns when non-nil.
	Router ModelSwitcher
}

// NewAgentConfig creates a config with defaults for a goal.
func NewAgentConfig(goal string) *AgentConfig {
	return &AgentConfig{
		Goal:                goal,
		MaxIterations:       DefaultMaxIterations,
		ToolTimeout:         DefaultToolTimeout,
		MaxToolResultLength: DefaultMaxToolResultLength,
		ContextWindow:       DefaultContextWindow,
		ResourceLimits:      DefaultResourceLimits(),
		Stuck:               DefaultStuckConfig(),
		MaxToolConcurrency:  DefaultMaxToolConcurrency,
		CheckpointPolicy:    DefaultCheckpointPolicy(),
	}
}

// WithSystemPrompt sets the system prompt.
func (c *AgentConfig) WithSystemPrompt(prompt string) *AgentConfig {
	c.SystemPrompt = prompt
	return c
}

// WithMaxIterations sets the loop bound.
func (c *AgentConfig) WithMaxIterations(max int) *AgentConfig {
	if max > 0 {
		c.MaxIterations = max
	}
	return c
}

// WithTemperature sets the sampling temperature.
func (c *AgentConfig) WithTemperature(t float64) *AgentConfig {
	c.Temperature = &t
	return c
}

// WithResourceLimits replaces the guardrails.
func (c *AgentConfig) WithResourceLimits(limits ResourceLimits) *AgentConfig {
	c.ResourceLimits = limits
	return c
}

// WithAllowedTools restricts the tool set.
func (c *AgentConfig) WithAllowedTools(names []string) *AgentConfig {
	c.AllowedTools = names
	return c
}

// WithoutStuckDetection disables the detector.
func (c *AgentConfig) WithoutStuckDetection() *AgentConfig {
	c.Stuck = nil
	return c
}
