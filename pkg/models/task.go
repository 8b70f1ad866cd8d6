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

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a workflow task. Status and
// queue-table membership always agree: Pending lives in tasks:pending,
// Running in tasks:processing, Completed and Failed in tasks:completed.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is Completed or Failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// WorkflowTask is one scheduled execution of a node within a workflow
// execution. The task carries its workflow and context snapshot so a
// worker can run it without extra lookups.
type WorkflowTask struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Node        Node            `json:"node"`
	Workflow    Workflow        `json:"workflow"`
	Context     ContextSnapshot `json:"context"`
	Input       json.RawMessage `json:"input,omitempty"`
	Status      TaskStatus      `json:"status"`
	CreatedAt   int64           `json:"created_at"`
	StartedAt   *int64          `json:"started_at,omitempty"`
	CompletedAt *int64          `json:"completed_at,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ContextSnapshot is the serializable part of an execution context: the
// outputs of completed nodes plus execution-scoped variables.
type ContextSnapshot struct {
	ExecutionID string                     `json:"execution_id"`
	NodeOutputs map[string]json.RawMessage `json:"node_outputs"`
	Variables   map[string]json.RawMessage `json:"variables"`
}

// NewContextSnapshot creates an empty snapshot for an execution.
func NewContextSnapshot(executionID string) ContextSnapshot {
	return ContextSnapshot{
		ExecutionID: executionID,
		NodeOutputs: make(map[string]json.RawMessage),
		Variables:   make(map[string]json.RawMessage),
	}
}

// Clone deep-copies the snapshot so downstream tasks never share maps.
func (c ContextSnapshot) Clone() ContextSnapshot {
	out := ContextSnapshot{
		ExecutionID: c.ExecutionID,
		NodeOutputs: make(map[string]json.RawMessage, len(c.NodeOutputs)),
		Variables:   make(map[string]json.RawMessage, len(c.Variables)),
	}
	for k, v := range c.NodeOutputs {
		out.NodeOutputs[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range c.Variables {
		out.Variables[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// NewWorkflowTask creates a pending task for a node of a workflow execution.
func NewWorkflowTask(executionID string, node Node, workflow Workflow, ctx ContextSnapshot, input json.RawMessage) WorkflowTask {
	return WorkflowTask{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		WorkflowID:  workflow.ID,
		Node:        node,
		Workflow:    workflow,
		Context:     ctx,
		Input:       input,
		Status:      TaskPending,
		CreatedAt:   time.Now().UnixMilli(),
	}
}

// NewSingleNodeTask creates a pending task for standalone node execution
// outside any stored workflow.
func NewSingleNodeTask(node Node, input json.RawMessage) WorkflowTask {
	executionID := uuid.NewString()
	wf := Workflow{ID: "single:" + node.ID, Name: "single-node", Nodes: []Node{node}}
	return NewWorkflowTask(executionID, node, wf, NewContextSnapshot(executionID), input)
}

// ExecutionStatus is the aggregate state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionSummary is the per-execution history index entry with running
// task counts. The summary transitions to Completed only when every task
// succeeded, and to Failed on the first failure.
type ExecutionSummary struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Total       int             `json:"total"`
	Completed   int             `json:"completed"`
	Failed      int             `json:"failed"`
	StartedAt   int64           `json:"started_at"`
	FinishedAt  *int64          `json:"finished_at,omitempty"`
}
