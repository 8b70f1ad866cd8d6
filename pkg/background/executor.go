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

package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/restflow-ai/restflow/pkg/events"
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/memory"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/reasoning"
	"github.com/restflow-ai/restflow/pkg/storage"
	"github.com/restflow-ai/restflow/pkg/subagent"
	"github.com/restflow-ai/restflow/pkg/tools"
)

// checkpointTTL is how long run checkpoints stay resumable.
const checkpointTTL = 24 * time.Hour

// runHandle is the live control surface of one firing: cancellation and
// steering reach the loop through it.
type runHandle struct {
	cancel *reasoning.CancelToken
	steer  chan reasoning.SteerMessage
}

// AgentRunner implements TaskExecutor: it resolves the agent
// definition, builds the ReAct config and persists events, checkpoints
// and messages around the run.
type AgentRunner struct {
	definitions subagent.DefinitionLookup
	providers   *llms.Registry
	// defaultProvider names the provider used when a definition has no
	// model preference.
	defaultProvider string
	registry        *tools.Registry
	storage         *Storage
	checkpoints     *storage.CheckpointStore
	memory          *memory.Store
	traces          *events.TraceRecorder

	mu   sync.Mutex
	runs map[string]*runHandle
}

// WithMemory enables vector memory for agents that opt in.
func (r *AgentRunner) WithMemory(store *memory.Store) *AgentRunner {
	r.memory = store
	return r
}

// WithTraces persists per-run tool traces.
func (r *AgentRunner) WithTraces(recorder *events.TraceRecorder) *AgentRunner {
	r.traces = recorder
	return r
}

// NewAgentRunner wires a runner.
func NewAgentRunner(definitions subagent.DefinitionLookup, providers *llms.Registry, defaultProvider string, registry *tools.Registry, st *Storage, checkpoints *storage.CheckpointStore) *AgentRunner {
	return &AgentRunner{
		definitions:     definitions,
		providers:       providers,
		defaultProvider: defaultProvider,
		registry:        registry,
		storage:         st,
		checkpoints:     checkpoints,
		runs:            make(map[string]*runHandle),
	}
}

// Cancel requests cooperative cancellation of a running firing.
func (r *AgentRunner) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.runs[taskID]; ok {
		h.cancel.Cancel()
		return true
	}
	return false
}

// Steer injects a mid-run instruction into a running firing.
func (r *AgentRunner) Steer(taskID, instruction, source string) error {
	r.mu.Lock()
	h, ok := r.runs[taskID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s is not running", taskID)
	}
	select {
	case h.steer <- reasoning.NewSteerMessage(instruction, source):
		return nil
	default:
		return fmt.Errorf("steer channel for task %s is full", taskID)
	}
}

// Execute implements TaskExecutor.
func (r *AgentRunner) Execute(ctx context.Context, task *models.BackgroundAgent) (bool, error) {
	def, err := r.definitions.Lookup(task.AgentID)
	if err != nil {
		r.logEvent(task.ID, models.EventError, fmt.Sprintf("unknown agent %q", task.AgentID), nil)
		return false, fmt.Errorf("unknown agent %q: %w", task.AgentID, err)
	}

	provider, err := r.resolveProvider(def)
	if err != nil {
		r.logEvent(task.ID, models.EventError, err.Error(), nil)
		return false, err
	}

	handle := &runHandle{
		cancel: reasoning.NewCancelToken(),
		steer:  reasoning.NewSteerChannel(),
	}
	r.mu.Lock()
	r.runs[task.ID] = handle
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.runs, task.ID)
		r.mu.Unlock()
	}()

	cfg := r.buildConfig(task, def, handle)
	executionID := uuid.NewString()
	cfg.Checkpoint = r.checkpointFunc(task.ID, executionID)

	// Memory-enabled agents recall relevant entries before the run.
	if task.Memory && r.memory != nil {
		if entries, err := r.memory.Recall(ctx, task.AgentID, cfg.Goal, 5); err == nil && len(entries) > 0 {
			var recall strings.Builder
			recall.WriteString("Relevant memory from earlier runs:\n")
			for _, entry := range entries {
				recall.WriteString("- ")
				recall.WriteString(entry.Content)
				recall.WriteString("\n")
			}
			cfg.SystemPrompt += "\n\n" + recall.String()
		}
	}

	// Sub-agent tools are scoped to this run: the scoped registry gets
	// every shared tool plus spawn/wait/list bound to this run's
	// tracker. Children spawn against the shared registry.
	tracker := subagent.NewTracker()
	scoped := r.registry.Scoped()
	deps := &subagent.Deps{
		Tracker:     tracker,
		Definitions: r.definitions,
		Provider:    provider,
		Registry:    r.registry,
		Emitter:     events.NopEmitter{},
		Limits:      cfg.ResourceLimits,
		ParentDepth: cfg.Depth,
	}
	if err := subagent.RegisterTools(scoped, deps); err != nil {
		slog.Warn("Failed to register sub-agent tools", "task_id", task.ID, "error", err)
	}

	r.logEvent(task.ID, models.EventStarted, "", nil)

	emitter := events.Emitter(&taskEventEmitter{storage: r.storage, taskID: task.ID})
	if r.traces != nil {
		emitter = events.Multi(emitter, events.NewTraceEmitter(r.traces, task.ID))
	}
	executor := reasoning.NewExecutor(provider, scoped, emitter)
	result, err := executor.Run(ctx, cfg)
	if err != nil {
		r.logEvent(task.ID, models.EventError, err.Error(), nil)
		return false, err
	}

	if result.Answer != "" {
		payload, _ := json.Marshal(map[string]any{"text": result.Answer, "is_stderr": false})
		r.logEvent(task.ID, models.EventOutput, result.Answer, payload)
		_ = r.storage.PushMessage(models.NewTaskMessage(task.ID, models.SourceAgent, result.Answer))
		if task.Memory && r.memory != nil && result.Success {
			if err := r.memory.Remember(ctx, task.AgentID, result.Answer); err != nil {
				slog.Warn("Failed to store agent memory", "task_id", task.ID, "error", err)
			}
		}
	}

	switch {
	case handle.cancel.Cancelled():
		r.logEvent(task.ID, models.EventCancelled, result.Error, nil)
	case result.Success:
		r.logEvent(task.ID, models.EventCompleted, "", nil)
	default:
		r.logEvent(task.ID, models.EventError, result.Error, nil)
	}
	return result.Success, nil
}

// resolveProvider picks the provider for a definition: its default
// model when registered, otherwise the runner default.
func (r *AgentRunner) resolveProvider(def models.AgentDefinition) (llms.Provider, error) {
	if def.DefaultModel != "" {
		if provider, err := r.providers.GetProvider(def.DefaultModel); err == nil {
			return provider, nil
		}
	}
	return r.providers.GetProvider(r.defaultProvider)
}

// buildConfig translates a background agent + definition into a ReAct
// config.
func (r *AgentRunner) buildConfig(task *models.BackgroundAgent, def models.AgentDefinition, handle *runHandle) *reasoning.AgentConfig {
	goal := task.Input
	if task.InputTemplate != "" {
		goal = renderInputTemplate(task.InputTemplate, task)
	}
	if goal == "" {
		goal = def.Description
	}

	cfg := reasoning.NewAgentConfig(goal).WithSystemPrompt(def.SystemPrompt)
	if def.MaxIterations > 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if len(def.AllowedTools) > 0 {
		// Sub-agent tools stay available unless explicitly opted out.
		cfg.AllowedTools = append(def.AllowedTools,
			"spawn_agent", "wait_agents", "list_agents")
	}

	limits := reasoning.DefaultResourceLimits()
	if spec := task.ResourceLimits; spec != nil {
		if spec.MaxToolCalls != 0 {
			limits.MaxToolCalls = spec.MaxToolCalls
		}
		if spec.MaxWallClockS != 0 {
			limits.MaxWallClock = time.Duration(spec.MaxWallClockS) * time.Second
		}
		if spec.MaxDepth != 0 {
			limits.MaxDepth = spec.MaxDepth
		}
	}
	cfg.ResourceLimits = limits

	cfg.Cancel = handle.cancel
	cfg.Steer = handle.steer
	taskID := task.ID
	cfg.Messages = func(context.Context) []string {
		msgs, err := r.storage.ConsumePendingMessages(taskID)
		if err != nil {
			slog.Warn("Failed to consume pending messages", "task_id", taskID, "error", err)
			return nil
		}
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Content)
		}
		return out
	}
	return cfg
}

// checkpointFunc persists run state with strictly increasing versions.
func (r *AgentRunner) checkpointFunc(taskID, executionID string) reasoning.CheckpointFunc {
	var version uint64
	var mu sync.Mutex
	return func(_ context.Context, state *reasoning.AgentState) error {
		data, err := state.Serialize()
		if err != nil {
			return err
		}
		mu.Lock()
		version++
		v := version
		mu.Unlock()
		return r.checkpoints.Save(models.AgentCheckpoint{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			ExecutionID: executionID,
			Version:     v,
			ExpiredAt:   time.Now().Add(checkpointTTL).UnixMilli(),
			State:       data,
		})
	}
}

func (r *AgentRunner) logEvent(taskID string, typ models.EventType, message string, payload json.RawMessage) {
	if err := r.storage.AppendEvent(models.NewTaskEvent(taskID, typ, events.Redact(message), payload)); err != nil {
		slog.Warn("Failed to append task event", "task_id", taskID, "type", typ, "error", err)
	}
}

// renderInputTemplate substitutes the template variables available to
// background-agent inputs.
func renderInputTemplate(template string, task *models.BackgroundAgent) string {
	now := time.Now()
	replacer := strings.NewReplacer(
		"{{now}}", now.Format(time.RFC3339),
		"{{date}}", now.Format("2006-01-02"),
		"{{time}}", now.Format("15:04"),
		"{{task_name}}", task.Name,
	)
	return replacer.Replace(template)
}

// taskEventEmitter forwards agent stream events into the task event log
// as progress/step entries.
type taskEventEmitter struct {
	storage *Storage
	taskID  string
}

// Emit implements events.Emitter.
func (e *taskEventEmitter) Emit(event events.AgentStreamEvent) {
	switch event.Type {
	case events.StreamToolCallStart:
		payload, _ := json.Marshal(map[string]any{"stage": "tool", "tool": event.ToolName})
		_ = e.storage.AppendEvent(models.NewTaskEvent(
			e.taskID, models.EventProgress, "calling "+event.ToolName, payload))
	case events.StreamToolCallResult:
		payload, _ := json.Marshal(map[string]any{
			"step_name": event.ToolName,
			"status":    map[bool]string{true: "completed", false: "failed"}[event.Success],
		})
		_ = e.storage.AppendEvent(models.NewTaskEvent(
			e.taskID, models.EventStep, "", payload))
	}
}
