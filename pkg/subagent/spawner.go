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

	"github.com/google/uuid"

	"github.com/restflow-ai/restflow/pkg/events"
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/reasoning"
	"github.com/restflow-ai/restflow/pkg/tools"
)

// DefaultMaxParallel caps concurrently running sub-agents per run.
const DefaultMaxParallel = 5

// DefaultTimeout bounds a sub-agent when the request carries none.
const DefaultTimeout = 300 * time.Second

// DefinitionLookup resolves agent definitions for spawning.
type DefinitionLookup interface {
	Lookup(idOrName string) (models.AgentDefinition, error)
	Callable() []models.AgentDefinition
}

// Deps is everything a spawn needs, shared by the sub-agent tools of
// one parent run.
type Deps struct {
	Tracker     *Tracker
	Definitions DefinitionLookup
	Provider    llms.Provider
	Registry    *tools.Registry
	Emitter     events.Emitter
	// Limits are the parent's resource limits; children inherit them at
	// depth+1.
	Limits reasoning.ResourceLimits
	// ParentDepth is the parent run's nesting depth.
	ParentDepth int
	// MaxParallel caps live children.
	MaxParallel int
}

// SpawnRequest asks for one child agent run.
type SpawnRequest struct {
	AgentID     string
	Task        string
	TimeoutSecs int64
}

// Handle identifies a spawned child.
type Handle struct {
	ID        string
	AgentName string
}

// Spawn validates caps and depth, registers tracker state, then starts
// the child run. Registration precedes the goroutine so a completion
// observed through the channel always has a state row.
func Spawn(deps *Deps, req SpawnRequest) (*Handle, error) {
	maxParallel := deps.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if deps.Tracker.RunningCount() >= maxParallel {
		return nil, fmt.Errorf("too many parallel sub-agents (limit %d); wait_agents before spawning more", maxParallel)
	}

	childDepth := deps.ParentDepth + 1
	if limit := deps.Limits.MaxDepth; limit > 0 && childDepth >= limit {
		return nil, &reasoning.ResourceError{
			Kind: reasoning.ResourceDepth, Limit: limit, Actual: childDepth,
		}
	}

	def, err := deps.Definitions.Lookup(req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("unknown agent %q: %w", req.AgentID, err)
	}

	timeout := DefaultTimeout
	if req.TimeoutSecs > 0 {
		timeout = time.Duration(req.TimeoutSecs) * time.Second
	}

	id := uuid.NewString()
	deps.Tracker.RegisterState(id, def.Name, req.Task)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	h := &handle{done: make(chan Result, 1), cancel: cancel}
	deps.Tracker.attachHandle(id, h)

	go func() {
		defer cancel()
		deps.Tracker.markRunning(id)
		result := runChild(ctx, deps, def, req.Task, childDepth)
		if ctx.Err() == context.DeadlineExceeded {
			result.Success = false
			if result.Error == "" {
				result.Error = fmt.Sprintf("sub-agent timed out after %s", timeout)
			}
			deps.Tracker.MarkTimedOut(id, result)
		} else {
			deps.Tracker.MarkCompleted(id, result)
		}
		h.done <- result
	}()

	return &Handle{ID: id, AgentName: def.Name}, nil
}

// runChild executes the child's ReAct run and converts the outcome.
func runChild(ctx context.Context, deps *Deps, def models.AgentDefinition, task string, depth int) Result {
	started := time.Now()

	cfg := reasoning.NewAgentConfig(task).
		WithSystemPrompt(def.SystemPrompt).
		WithResourceLimits(deps.Limits)
	cfg.Depth = depth
	if def.MaxIterations > 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if len(def.AllowedTools) > 0 {
		cfg.AllowedTools = def.AllowedTools
	}

	executor := reasoning.NewExecutor(deps.Provider, deps.Registry, deps.Emitter)
	res, err := executor.Run(ctx, cfg)
	duration := time.Since(started).Milliseconds()
	if err != nil {
		return Result{Success: false, DurationMS: duration, Error: err.Error()}
	}
	return Result{
		Success:    res.Success,
		Output:     res.Answer,
		DurationMS: duration,
		TokensUsed: res.TotalTokens,
		Error:      res.Error,
	}
}
