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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/restflow-ai/restflow/pkg/events"
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/tools"
)

// checkpointTimeout bounds the asynchronous checkpoint callback.
const checkpointTimeout = 10 * time.Second

// ErrCancelled is the terminal error of a cancelled run.
var ErrCancelled = errors.New("run cancelled")

// ErrStuck is the terminal error when the stuck detector terminates.
var ErrStuck = errors.New("agent stuck: repeated identical tool calls")

// Executor drives one ReAct run: assemble messages, call the LLM,
// dispatch tool calls, observe results, repeat until a final answer or
// a stop condition.
type Executor struct {
	provider llms.Provider
	registry *tools.Registry
	emitter  events.Emitter
}

// NewExecutor creates an executor. emitter may be nil.
func NewExecutor(provider llms.Provider, registry *tools.Registry, emitter events.Emitter) *Executor {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Executor{provider: provider, registry: registry, emitter: emitter}
}

// Run executes a fresh run for the config's goal.
func (e *Executor) Run(ctx context.Context, cfg *AgentConfig) (*AgentResult, error) {
	state := NewAgentState(cfg.MaxIterations)
	if cfg.SystemPrompt != "" {
		state.AddMessage(llms.SystemMessage(cfg.SystemPrompt))
	}
	state.AddMessage(llms.UserMessage(cfg.Goal))
	return e.RunFromState(ctx, cfg, state)
}

// RunFromState resumes a run from a (possibly checkpointed) state.
func (e *Executor) RunFromState(ctx context.Context, cfg *AgentConfig, state *AgentState) (*AgentResult, error) {
	tracker := NewResourceTrackerAtDepth(cfg.ResourceLimits, cfg.Depth)

	var detector *StuckDetector
	if cfg.Stuck != nil {
		detector = NewStuckDetector(*cfg.Stuck)
	}

	provider := e.provider
	totalTokens := 0
	lastHadToolCalls := false

	result := func(success bool, answer string, runErr error) (*AgentResult, error) {
		state.Terminal = true
		res := &AgentResult{
			Success:       success,
			Answer:        answer,
			Iterations:    state.Iteration,
			TotalTokens:   totalTokens,
			State:         state,
			ResourceUsage: tracker.Usage(),
		}
		if runErr != nil {
			res.Error = runErr.Error()
		}
		e.checkpoint(cfg, state, true)
		e.emitter.Emit(events.Complete())
		return res, nil
	}

	for {
		// (1) Resource guardrails before anything else this turn.
		if err := tracker.Check(); err != nil {
			return result(false, "", err)
		}

		// (2) Suspension point: cancellation, steering, user messages.
		if cfg.Cancel.Cancelled() || ctx.Err() != nil {
			return result(false, "", ErrCancelled)
		}
		e.drainSteer(cfg, state)
		e.drainMessages(ctx, cfg, state)

		// Model routing takes effect at the turn boundary only.
		if cfg.Router != nil {
			provider = cfg.Router.ProviderFor(TurnInfo{
				Iteration:        state.Iteration,
				LastHadToolCalls: lastHadToolCalls,
			}, provider)
		}

		// (3) LLM completion, streaming when the provider supports it.
		completion, err := e.complete(ctx, provider, cfg, state.Messages)
		if err != nil {
			return result(false, "", fmt.Errorf("LLM call failed: %w", err))
		}
		totalTokens += completion.Tokens

		// A cancellation that arrived mid-call discards the output.
		if cfg.Cancel.Cancelled() {
			return result(false, "", ErrCancelled)
		}

		// (4) Final answer: no tool calls means the run is done. The
		// final turn counts toward the iteration total.
		if len(completion.ToolCalls) == 0 {
			state.AddMessage(llms.AssistantMessage(completion.Text))
			state.Iteration++
			return result(true, completion.Text, nil)
		}
		state.AddMessage(llms.Message{
			Role:      llms.RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		lastHadToolCalls = true

		// (5) Tool dispatch; results stitch back in declaration order.
		observations := e.dispatchTools(ctx, cfg, tracker, detector, completion.ToolCalls)

		// (6) Observation append, truncated.
		for _, obs := range observations {
			state.AddMessage(obs)
		}

		// (7) Stuck detection.
		if detector != nil && detector.IsStuck() {
			switch detector.Action() {
			case StuckNudge:
				state.AddMessage(llms.UserMessage(NudgeMessage))
			default:
				return result(false, "", ErrStuck)
			}
		}

		// (8) Checkpoint per policy, asynchronously.
		e.checkpointPerPolicy(cfg, state)

		// (9) Iteration bump.
		state.Iteration++
		if state.Iteration >= cfg.MaxIterations {
			return result(false, "", fmt.Errorf("max_iterations reached (%d)", cfg.MaxIterations))
		}
	}
}

// complete performs one LLM call, preferring the streaming surface and
// forwarding chunks to the emitter.
func (e *Executor) complete(ctx context.Context, provider llms.Provider, cfg *AgentConfig, messages []llms.Message) (*llms.Completion, error) {
	opts := llms.Options{
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	defs := e.registry.Definitions(cfg.AllowedTools)

	stream, err := provider.GenerateStreaming(ctx, messages, defs, opts)
	if err != nil {
		return nil, err
	}
	completion := &llms.Completion{}
	for chunk := range stream {
		switch chunk.Type {
		case "text":
			completion.Text += chunk.Text
			e.emitter.Emit(events.TextDelta(chunk.Text))
		case "thinking":
			e.emitter.Emit(events.ThinkingDelta(chunk.Text))
		case "tool_call":
			if chunk.ToolCall != nil {
				completion.ToolCalls = append(completion.ToolCalls, *chunk.ToolCall)
			}
		case "done":
			completion.Tokens = chunk.Tokens
		case "error":
			return nil, chunk.Err
		}
	}
	return completion, nil
}

// drainSteer appends queued steer instructions as synthetic user
// messages. Non-blocking.
func (e *Executor) drainSteer(cfg *AgentConfig, state *AgentState) {
	if cfg.Steer == nil {
		return
	}
	for {
		select {
		case msg := <-cfg.Steer:
			slog.Info("Applying steer instruction", "source", msg.Source)
			state.AddMessage(llms.UserMessage(msg.Instruction))
		default:
			return
		}
	}
}

// drainMessages appends pending user messages persisted for the task.
// Steer instructions are appended first; both land before the next LLM
// call.
func (e *Executor) drainMessages(ctx context.Context, cfg *AgentConfig, state *AgentState) {
	if cfg.Messages == nil {
		return
	}
	for _, content := range cfg.Messages(ctx) {
		state.AddMessage(llms.UserMessage(content))
	}
}

// dispatchTools executes a turn's tool calls. Calls whose tools allow it
// run in parallel under the concurrency cap; the rest run sequentially
// after them. Results return in declaration order regardless.
func (e *Executor) dispatchTools(ctx context.Context, cfg *AgentConfig, tracker *ResourceTracker, detector *StuckDetector, calls []llms.ToolCall) []llms.Message {
	results := make([]llms.Message, len(calls))

	parallel := make([]int, 0, len(calls))
	var sequential []int
	for i, call := range calls {
		tool, err := e.registry.GetTool(call.Name)
		if err == nil && tool.SupportsParallel() && tool.SupportsParallelFor(call.Arguments) {
			parallel = append(parallel, i)
		} else {
			sequential = append(sequential, i)
		}
	}

	maxConcurrency := int64(cfg.MaxToolConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxToolConcurrency
	}
	sem := semaphore.NewWeighted(maxConcurrency)

	var wg sync.WaitGroup
	for _, i := range parallel {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = e.errorObservation(cfg, calls[i], err)
				return
			}
			defer sem.Release(1)
			results[i] = e.executeOne(ctx, cfg, calls[i])
		}(i)
	}
	wg.Wait()

	for _, i := range sequential {
		results[i] = e.executeOne(ctx, cfg, calls[i])
	}

	tracker.RecordToolCalls(len(calls))
	if detector != nil {
		for _, call := range calls {
			detector.Record(call.Name, call.Arguments)
		}
	}
	return results
}

// executeOne runs one tool call with its timeout and emits trace events.
// Failures become truthful tool_result observations; the loop continues
// so the model can react.
func (e *Executor) executeOne(ctx context.Context, cfg *AgentConfig, call llms.ToolCall) llms.Message {
	e.emitter.Emit(events.ToolCallStart(call.ID, call.Name, call.Arguments))

	toolCtx := ctx
	if cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
		defer cancel()
	}

	type outcome struct {
		output *tools.ToolOutput
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := e.registry.Execute(toolCtx, call.Name, call.Arguments)
		done <- outcome{output, err}
	}()

	var rendered string
	var success bool
	select {
	case <-toolCtx.Done():
		rendered = fmt.Sprintf("Error: Tool '%s' timed out after %dms",
			call.Name, cfg.ToolTimeout.Milliseconds())
	case o := <-done:
		switch {
		case o.err != nil:
			rendered = "Error: " + o.err.Error()
		case o.output == nil:
			rendered = "Error: tool returned no output"
		default:
			rendered = o.output.Render()
			success = o.output.Success
		}
	}

	if limit := cfg.MaxToolResultLength; limit > 0 && len(rendered) > limit {
		rendered = rendered[:limit] + "... [truncated]"
	}
	e.emitter.Emit(events.ToolCallResult(call.ID, call.Name, rendered, success))
	return llms.ToolResultMessage(call.ID, call.Name, rendered)
}

func (e *Executor) errorObservation(cfg *AgentConfig, call llms.ToolCall, err error) llms.Message {
	rendered := "Error: " + err.Error()
	e.emitter.Emit(events.ToolCallResult(call.ID, call.Name, rendered, false))
	return llms.ToolResultMessage(call.ID, call.Name, rendered)
}

// checkpointPerPolicy persists state according to the configured policy.
func (e *Executor) checkpointPerPolicy(cfg *AgentConfig, state *AgentState) {
	switch cfg.CheckpointPolicy.Kind {
	case CheckpointPerTurn:
		e.checkpoint(cfg, state, false)
	case CheckpointPeriodic:
		interval := cfg.CheckpointPolicy.Interval
		if interval <= 0 {
			interval = 5
		}
		if (state.Iteration+1)%interval == 0 {
			e.checkpoint(cfg, state, false)
		}
	}
}

// checkpoint invokes the callback asynchronously with its own timeout;
// failures are logged, never propagated into the loop.
func (e *Executor) checkpoint(cfg *AgentConfig, state *AgentState, terminal bool) {
	if cfg.Checkpoint == nil {
		return
	}
	if !terminal && cfg.CheckpointPolicy.Kind == CheckpointOnComplete {
		return
	}
	snapshot := *state
	snapshot.Messages = make([]llms.Message, len(state.Messages))
	copy(snapshot.Messages, state.Messages)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
		defer cancel()
		if err := cfg.Checkpoint(ctx, &snapshot); err != nil {
			slog.Warn("Checkpoint callback failed", "state_id", snapshot.ID, "error", err)
		}
	}()
}
