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

// Package subagent tracks parallel child agent runs and exposes them to
// the LLM through the spawn_agent / wait_agents / list_agents tools.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is a sub-agent's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Result is the outcome of a sub-agent execution.
type Result struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Summary    string `json:"summary,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Error      string `json:"error,omitempty"`
}

// State is a sub-agent's tracked state.
type State struct {
	ID          string  `json:"id"`
	AgentName   string  `json:"agent_name"`
	Task        string  `json:"task"`
	Status      Status  `json:"status"`
	StartedAt   int64   `json:"started_at"`
	CompletedAt *int64  `json:"completed_at,omitempty"`
	Result      *Result `json:"result,omitempty"`
}

// Completion is published on the tracker's channel when a sub-agent
// finishes.
type Completion struct {
	ID     string
	Result Result
}

// handle is the waitable side of a running sub-agent.
type handle struct {
	done   chan Result
	cancel context.CancelFunc
}

// completionBuffer bounds the completions channel.
const completionBuffer = 64

// Tracker is the concurrent map of child agent runs. State rows are
// registered before the run starts so any completion observed via the
// channel has a valid row; handles attach atomically right after spawn.
type Tracker struct {
	mu          sync.RWMutex
	states      map[string]*State
	handles     map[string]*handle
	completions chan Completion
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states:      make(map[string]*State),
		handles:     make(map[string]*handle),
		completions: make(chan Completion, completionBuffer),
	}
}

// Completions returns the completion notification channel.
func (t *Tracker) Completions() <-chan Completion { return t.completions }

// RegisterState creates a Pending row. It must precede the spawn.
func (t *Tracker) RegisterState(id, agentName, task string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = &State{
		ID:        id,
		AgentName: agentName,
		Task:      task,
		Status:    StatusPending,
		StartedAt: time.Now().UnixMilli(),
	}
}

// attachHandle wires the waitable handle for id.
func (t *Tracker) attachHandle(id string, h *handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[id] = h
}

// markRunning flips a Pending row to Running.
func (t *Tracker) markRunning(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[id]; ok && s.Status == StatusPending {
		s.Status = StatusRunning
	}
}

// Get returns a copy of a sub-agent's state.
func (t *Tracker) Get(id string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[id]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// All returns copies of every tracked state.
func (t *Tracker) All() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, *s)
	}
	return out
}

// Running returns the states currently running or pending.
func (t *Tracker) Running() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []State
	for _, s := range t.states {
		if s.Status == StatusRunning || s.Status == StatusPending {
			out = append(out, *s)
		}
	}
	return out
}

// RunningCount counts live sub-agents.
func (t *Tracker) RunningCount() int {
	return len(t.Running())
}

// Wait blocks until the sub-agent finishes (or ctx is done). For
// already-finished agents it returns the stored result (late join).
func (t *Tracker) Wait(ctx context.Context, id string) (*Result, error) {
	t.mu.Lock()
	h, hasHandle := t.handles[id]
	state, hasState := t.states[id]
	if hasHandle {
		delete(t.handles, id)
	}
	t.mu.Unlock()

	if !hasState {
		return nil, fmt.Errorf("sub-agent %q not found", id)
	}
	if !hasHandle {
		if state.Result == nil {
			return nil, fmt.Errorf("sub-agent %q has no result yet", id)
		}
		result := *state.Result
		return &result, nil
	}

	select {
	case result := <-h.done:
		t.MarkCompleted(id, result)
		return &result, nil
	case <-ctx.Done():
		// Put the handle back so a later wait can still join.
		t.attachHandle(id, h)
		return nil, ctx.Err()
	}
}

// WaitAll waits for every live sub-agent.
func (t *Tracker) WaitAll(ctx context.Context) ([]Result, error) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.handles))
	for id := range t.handles {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	var results []Result
	for _, id := range ids {
		result, err := t.Wait(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// WaitAny waits for the next completion among live sub-agents.
func (t *Tracker) WaitAny(ctx context.Context) (*Completion, error) {
	select {
	case completion := <-t.completions:
		return &completion, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts a running sub-agent.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	h, hasHandle := t.handles[id]
	s, hasState := t.states[id]
	if hasHandle {
		delete(t.handles, id)
	}
	if hasState {
		s.Status = StatusCancelled
		now := time.Now().UnixMilli()
		s.CompletedAt = &now
	}
	t.mu.Unlock()

	if !hasState {
		return fmt.Errorf("sub-agent %q not found", id)
	}
	if hasHandle && h.cancel != nil {
		h.cancel()
	}
	return nil
}

// MarkCompleted records a final result: status follows result.Success,
// completed_at is stamped and the handle entry is removed.
func (t *Tracker) MarkCompleted(id string, result Result) {
	t.finish(id, result, "")
}

// MarkTimedOut records a timeout result.
func (t *Tracker) MarkTimedOut(id string, result Result) {
	t.finish(id, result, StatusTimedOut)
}

func (t *Tracker) finish(id string, result Result, override Status) {
	t.mu.Lock()
	s, ok := t.states[id]
	if ok && s.Status != StatusCancelled {
		switch {
		case override != "":
			s.Status = override
		case result.Success:
			s.Status = StatusCompleted
		default:
			s.Status = StatusFailed
		}
		now := time.Now().UnixMilli()
		s.CompletedAt = &now
		r := result
		s.Result = &r
	}
	delete(t.handles, id)
	t.mu.Unlock()

	if !ok {
		return
	}
	select {
	case t.completions <- Completion{ID: id, Result: result}:
	default:
		// Nobody is draining completions; state already carries the result.
	}
}
