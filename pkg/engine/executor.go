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

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/secrets"
	"github.com/restflow-ai/restflow/pkg/storage"
)

// NodeRunner executes one node of a task. Implemented by the node
// registry; the indirection keeps the engine free of node imports.
type NodeRunner interface {
	Run(ctx context.Context, task *models.WorkflowTask, ec *ExecutionContext) (json.RawMessage, error)
}

// Executor drives workflows end to end, in sync or async mode. Async
// submissions go through the scheduler and are drained by the shared
// worker pool; sync runs execute in the calling goroutine.
type Executor struct {
	scheduler *Scheduler
	runner    NodeRunner
	history   *storage.HistoryStore
	resolver  secrets.Resolver
}

// NewExecutor wires an executor.
func NewExecutor(scheduler *Scheduler, runner NodeRunner, history *storage.HistoryStore, resolver secrets.Resolver) *Executor {
	return &Executor{
		scheduler: scheduler,
		runner:    runner,
		history:   history,
		resolver:  resolver,
	}
}

// Scheduler exposes the underlying scheduler (trigger manager, CLI).
func (e *Executor) Scheduler() *Scheduler { return e.scheduler }

// seedSnapshot records the trigger input as every trigger node's output
// so downstream nodes see their dependencies satisfied and can
// interpolate {{<trigger_id>.output...}}.
func seedSnapshot(executionID string, wf *models.Workflow, input json.RawMessage) models.ContextSnapshot {
	snapshot := models.NewContextSnapshot(executionID)
	if input == nil {
		input = json.RawMessage(`{}`)
	}
	for _, n := range wf.Nodes {
		if n.Kind.IsTrigger() {
			snapshot.NodeOutputs[n.ID] = input
		}
	}
	snapshot.Variables["trigger"] = input
	return snapshot
}

// Submit expands the workflow's initial frontier into pending tasks and
// returns the new execution id. Workers drain asynchronously.
func (e *Executor) Submit(wf models.Workflow, input json.RawMessage) (string, error) {
	graph, err := NewGraph(&wf)
	if err != nil {
		return "", fmt.Errorf("invalid workflow %s: %w", wf.ID, err)
	}

	executionID := uuid.NewString()
	snapshot := seedSnapshot(executionID, &wf, input)

	total := 0
	for _, n := range wf.Nodes {
		if !n.Kind.IsTrigger() {
			total++
		}
	}
	if e.history != nil {
		summary := models.ExecutionSummary{
			ExecutionID: executionID,
			WorkflowID:  wf.ID,
			Status:      models.ExecutionRunning,
			Total:       total,
			StartedAt:   time.Now().UnixMilli(),
		}
		if err := e.history.Put(summary); err != nil {
			return "", err
		}
	}

	// Seed the frontier: nodes whose dependencies are already satisfied
	// by the trigger outputs. Deeper nodes enqueue as upstream work
	// completes.
	seeded := 0
	for _, n := range graph.TopologicalOrder() {
		if !graph.DependenciesMet(n.ID, snapshot) {
			continue
		}
		if _, err := e.scheduler.PushTask(executionID, n, wf, snapshot, input); err != nil {
			return "", err
		}
		seeded++
	}
	if seeded == 0 {
		return "", fmt.Errorf("workflow %s has no runnable nodes", wf.ID)
	}
	return executionID, nil
}

// RunSync executes the workflow to completion in the calling goroutine,
// in topological order, and returns the output of every node. Used by
// sync-mode webhooks and inline CLI execution.
func (e *Executor) RunSync(ctx context.Context, wf models.Workflow, input json.RawMessage) (map[string]json.RawMessage, error) {
	graph, err := NewGraph(&wf)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", wf.ID, err)
	}

	executionID := uuid.NewString()
	snapshot := seedSnapshot(executionID, &wf, input)
	outputs := make(map[string]json.RawMessage)

	for _, node := range graph.TopologicalOrder() {
		if !graph.DependenciesMet(node.ID, snapshot) {
			// An upstream failure already aborted; unreachable by
			// construction since failures return immediately below.
			continue
		}
		task := models.NewWorkflowTask(executionID, node, wf, snapshot.Clone(), input)
		ec := NewExecutionContext(task.Context, e.resolver)
		output, err := e.runner.Run(ctx, &task, ec)
		if err != nil {
			return outputs, fmt.Errorf("node %s failed: %w", node.ID, err)
		}
		snapshot.NodeOutputs[node.ID] = output
		outputs[node.ID] = output
	}
	return outputs, nil
}

// ExecutionStatus returns the summary for an execution.
func (e *Executor) ExecutionStatus(executionID string) (models.ExecutionSummary, error) {
	if e.history == nil {
		return models.ExecutionSummary{}, storage.ErrNotFound
	}
	return e.history.Get(executionID)
}

// recordTaskResult folds one finished task into its execution summary.
func (e *Executor) recordTaskResult(executionID string, failed bool) {
	if e.history == nil {
		return
	}
	summary, err := e.history.Get(executionID)
	if err != nil {
		return
	}
	if failed {
		summary.Failed++
		summary.Status = models.ExecutionFailed
	} else {
		summary.Completed++
		if summary.Completed == summary.Total && summary.Status == models.ExecutionRunning {
			summary.Status = models.ExecutionCompleted
		}
	}
	if summary.Status != models.ExecutionRunning && summary.FinishedAt == nil {
		finished := time.Now().UnixMilli()
		summary.FinishedAt = &finished
	}
	_ = e.history.Put(summary)
}
