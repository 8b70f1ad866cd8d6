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

package subagent

import (
	"context"
	"fmt"
	"time"

	"github.com/restflow-ai/restflow/pkg/tools"
)

// RegisterTools adds spawn_agent, wait_agents and list_agents bound to
// one run's Deps into a registry.
func RegisterTools(registry *tools.Registry, deps *Deps) error {
	for _, tool := range []tools.Tool{
		&SpawnAgentTool{deps: deps},
		&WaitAgentsTool{deps: deps},
		&ListAgentsTool{deps: deps},
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

// SpawnAgentParams is spawn_agent's input.
type SpawnAgentParams struct {
	Agent       string `json:"agent" jsonschema:"description=Name of the agent to spawn"`
	Task        string `json:"task" jsonschema:"description=Detailed task description for the agent"`
	Wait        bool   `json:"wait,omitempty" jsonschema:"description=If true wait for completion instead of running in background"`
	TimeoutSecs int64  `json:"timeout_secs,omitempty" jsonschema:"description=Timeout in seconds (default 300)"`
}

// SpawnAgentTool spawns a specialized agent to work on a task in
// parallel with the parent run.
type SpawnAgentTool struct {
	tools.ParallelTool
	deps *Deps
}

// Name implements tools.Tool.
func (t *SpawnAgentTool) Name() string { return "spawn_agent" }

// Description implements tools.Tool.
func (t *SpawnAgentTool) Description() string {
	return "Spawn a specialized agent to work on a task in parallel. The agent runs in the background; call wait_agents to collect its result."
}

// ParametersSchema implements tools.Tool.
func (t *SpawnAgentTool) ParametersSchema() map[string]any {
	return tools.SchemaFor(&SpawnAgentParams{})
}

// Execute implements tools.Tool.
func (t *SpawnAgentTool) Execute(ctx context.Context, args map[string]any) (*tools.ToolOutput, error) {
	var params SpawnAgentParams
	if err := tools.DecodeArgs(args, &params); err != nil {
		return tools.Errorf(tools.CategoryConfig, "%v", err), nil
	}

	h, err := Spawn(t.deps, SpawnRequest{
		AgentID:     params.Agent,
		Task:        params.Task,
		TimeoutSecs: params.TimeoutSecs,
	})
	if err != nil {
		return tools.Errorf(tools.CategoryConfig, "%v", err), nil
	}

	if !params.Wait {
		return tools.Success(map[string]any{
			"task_id": h.ID,
			"agent":   h.AgentName,
			"status":  "spawned",
			"message": fmt.Sprintf("Agent '%s' is working in the background. Use wait_agents to collect the result.", h.AgentName),
		}), nil
	}

	waitTimeout := DefaultTimeout
	if params.TimeoutSecs > 0 {
		waitTimeout = time.Duration(params.TimeoutSecs) * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	result, err := t.deps.Tracker.Wait(waitCtx, h.ID)
	if err != nil {
		return tools.Success(map[string]any{
			"task_id": h.ID,
			"agent":   h.AgentName,
			"status":  "timeout",
			"message": "Timeout waiting for sub-agent; it keeps running in the background.",
		}), nil
	}
	return tools.Success(subagentResultPayload(h.AgentName, result)), nil
}

// WaitAgentsParams is wait_agents' input.
type WaitAgentsParams struct {
	TaskID      string `json:"task_id,omitempty" jsonschema:"description=Wait for one specific sub-agent; empty waits for all"`
	TimeoutSecs int64  `json:"timeout_secs,omitempty" jsonschema:"description=Timeout in seconds (default 300)"`
}

// WaitAgentsTool joins running sub-agents and returns their results.
type WaitAgentsTool struct {
	tools.SerialTool
	deps *Deps
}

// Name implements tools.Tool.
func (t *WaitAgentsTool) Name() string { return "wait_agents" }

// Description implements tools.Tool.
func (t *WaitAgentsTool) Description() string {
	return "Wait for spawned sub-agents to finish and return their results. Pass task_id to wait for a single agent."
}

// ParametersSchema implements tools.Tool.
func (t *WaitAgentsTool) ParametersSchema() map[string]any {
	return tools.SchemaFor(&WaitAgentsParams{})
}

// Execute implements tools.Tool.
func (t *WaitAgentsTool) Execute(ctx context.Context, args map[string]any) (*tools.ToolOutput, error) {
	var params WaitAgentsParams
	if err := tools.DecodeArgs(args, &params); err != nil {
		return tools.Errorf(tools.CategoryConfig, "%v", err), nil
	}

	timeout := DefaultTimeout
	if params.TimeoutSecs > 0 {
		timeout = time.Duration(params.TimeoutSecs) * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if params.TaskID != "" {
		state, ok := t.deps.Tracker.Get(params.TaskID)
		if !ok {
			return tools.Errorf(tools.CategoryConfig, "sub-agent %q not found", params.TaskID), nil
		}
		result, err := t.deps.Tracker.Wait(waitCtx, params.TaskID)
		if err != nil {
			return tools.Errorf(tools.CategoryOther, "timed out waiting for sub-agent %q", params.TaskID), nil
		}
		return tools.Success(subagentResultPayload(state.AgentName, result)), nil
	}

	results, err := t.deps.Tracker.WaitAll(waitCtx)
	if err != nil {
		return tools.Errorf(tools.CategoryOther, "timed out waiting for sub-agents: %v", err), nil
	}
	payload := make([]map[string]any, 0, len(results))
	for i := range results {
		payload = append(payload, subagentResultPayload("", &results[i]))
	}
	return tools.Success(map[string]any{"results": payload, "count": len(payload)}), nil
}

// ListAgentsParams is list_agents' input.
type ListAgentsParams struct {
	IncludeFinished bool `json:"include_finished,omitempty" jsonschema:"description=Also list completed and failed sub-agents"`
}

// ListAgentsTool lists available agent definitions and tracked
// sub-agents of the current run.
type ListAgentsTool struct {
	tools.ParallelTool
	deps *Deps
}

// Name implements tools.Tool.
func (t *ListAgentsTool) Name() string { return "list_agents" }

// Description implements tools.Tool.
func (t *ListAgentsTool) Description() string {
	return "List the agents available for spawning and the sub-agents of this run with their status."
}

// ParametersSchema implements tools.Tool.
func (t *ListAgentsTool) ParametersSchema() map[string]any {
	return tools.SchemaFor(&ListAgentsParams{})
}

// Execute implements tools.Tool.
func (t *ListAgentsTool) Execute(_ context.Context, args map[string]any) (*tools.ToolOutput, error) {
	var params ListAgentsParams
	if err := tools.DecodeArgs(args, &params); err != nil {
		return tools.Errorf(tools.CategoryConfig, "%v", err), nil
	}

	available := make([]map[string]any, 0)
	for _, def := range t.deps.Definitions.Callable() {
		available = append(available, map[string]any{
			"name":        def.Name,
			"description": def.Description,
		})
	}

	var tracked []State
	if params.IncludeFinished {
		tracked = t.deps.Tracker.All()
	} else {
		tracked = t.deps.Tracker.Running()
	}
	running := make([]map[string]any, 0, len(tracked))
	for _, s := range tracked {
		running = append(running, map[string]any{
			"task_id": s.ID,
			"agent":   s.AgentName,
			"task":    s.Task,
			"status":  string(s.Status),
		})
	}

	return tools.Success(map[string]any{
		"available_agents": available,
		"subagents":        running,
	}), nil
}

func subagentResultPayload(agentName string, result *Result) map[string]any {
	payload := map[string]any{
		"status":      "completed",
		"output":      result.Output,
		"duration_ms": result.DurationMS,
	}
	if agentName != "" {
		payload["agent"] = agentName
	}
	if !result.Success {
		payload["status"] = "failed"
		payload["error"] = result.Error
	}
	if result.TokensUsed > 0 {
		payload["tokens_used"] = result.TokensUsed
	}
	return payload
}
