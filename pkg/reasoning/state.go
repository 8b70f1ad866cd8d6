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

package reasoning

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/restflow-ai/restflow/pkg/llms"
)

// AgentState is the serializable state of one ReAct run: the message
// list (system, user, then alternating assistant / tool_result blocks),
// the iteration counter and the terminal flag. A serialized state is a
// valid checkpoint resume point.
type AgentState struct {
	ID            string         `json:"id"`
	Messages      []llms.Message `json:"messages"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Terminal      bool           `json:"terminal"`
}

// NewAgentState creates an empty state.
func NewAgentState(maxIterations int) *AgentState {
	return &AgentState{
		ID:            uuid.NewString(),
		MaxIterations: maxIterations,
	}
}

// AddMessage appends a message.
func (s *AgentState) AddMessage(msg llms.Message) {
	s.Messages = append(s.Messages, msg)
}

// LastAssistant returns the last assistant message, if any.
func (s *AgentState) LastAssistant() (llms.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llms.RoleAssistant {
			return s.Messages[i], true
		}
	}
	return llms.Message{}, false
}

// Serialize renders the state for checkpointing.
func (s *AgentState) Serialize() (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize agent state: %w", err)
	}
	return data, nil
}

// DeserializeState restores a checkpointed state.
func DeserializeState(data json.RawMessage) (*AgentState, error) {
	var state AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to deserialize agent state: %w", err)
	}
	return &state, nil
}

// AgentResult is the outcome of a run.
type AgentResult struct {
	Success       bool          `json:"success"`
	Answer        string        `json:"answer,omitempty"`
	Error         string        `json:"error,omitempty"`
	Iterations    int           `json:"iterations"`
	TotalTokens   int           `json:"total_tokens"`
	State         *AgentState   `json:"state"`
	ResourceUsage ResourceUsage `json:"resource_usage"`
}
