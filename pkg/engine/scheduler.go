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
	"log/slog"
	"time"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/queue"
)

// DefaultStallTimeout is how long a task may sit in processing before
// stall recovery returns it to pending.
const DefaultStallTimeout = 300 * time.Second

// Scheduler mediates between workflow executions and the persistent
// queue: it pushes node tasks, serves workers, finishes tasks and fans
// out downstream work.
type Scheduler struct {
	queue        *queue.TaskQueue
	stallTimeout time.Duration
	now          func() time.Time
}

// NewScheduler creates a scheduler over the queue.
func NewScheduler(q *queue.TaskQueue) *Scheduler {
	return &Scheduler{
		queue:        q,
		stallTimeout: DefaultStallTimeout,
		now:          time.Now,
	}
}

// WithStallTimeout overrides the stall threshold (used by tests).
func (s *Scheduler) WithStallTimeout(d time.Duration) *Scheduler {
	s.stallTimeout = d
	return s
}

// PushTask enqueues a new pending task for a node. Priority is the
// wall-clock insertion time in milliseconds, giving FIFO order among
// eligible tasks; same-millisecond ties break on task id.
func (s *Scheduler) PushTask(executionID string, node models.Node, wf models.Workflow, snapshot models.ContextSnapshot, input json.RawMessage) (string, error) {
	task := models.NewWorkflowTask(executionID, node, wf, snapshot, input)
	priority := uint64(s.now().UnixMilli())
	if err := s.queue.InsertPending(priority, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// PushSingleNode enqueues a standalone node execution.
func (s *Scheduler) PushSingleNode(node models.Node, input json.RawMessage) (string, error) {
	task := models.NewSingleNodeTask(node, input)
	priority := uint64(s.now().UnixMilli())
	if err := s.queue.InsertPending(priority, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// PopTask blocks until a task is claimed or ctx is done. The claim sets
// status Running and stamps started_at inside the pop transaction.
func (s *Scheduler) PopTask(ctx context.Context) (*models.WorkflowTask, error) {
	for {
		task, err := s.queue.AtomicPopPending(func(t *models.WorkflowTask) {
			startedAt := s.now().UnixMilli()
			t.Status = models.TaskRunning
			t.StartedAt = &startedAt
		})
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
		if err := s.queue.Notifier().Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// CompleteTask marks a processing task Completed with its output and
// moves it to the completed table.
func (s *Scheduler) CompleteTask(taskID string, output json.RawMessage) error {
	return s.finishTask(taskID, models.TaskCompleted, output, "")
}

// FailTask marks a processing task Failed with an error message and
// moves it to the completed table.
func (s *Scheduler) FailTask(taskID string, errMsg string) error {
	return s.finishTask(taskID, models.TaskFailed, nil, errMsg)
}

func (s *Scheduler) finishTask(taskID string, status models.TaskStatus, output json.RawMessage, errMsg string) error {
	task, err := s.queue.GetFromProcessing(taskID)
	if err != nil {
		return fmt.Errorf("task %s not in processing: %w", taskID, err)
	}
	completedAt := s.now().UnixMilli()
	task.Status = status
	task.CompletedAt = &completedAt
	task.Output = output
	task.Error = errMsg
	return s.queue.MoveToCompleted(task)
}

// QueueDownstreamTasks records output in a cloned context and enqueues
// every downstream node whose dependencies are now all satisfied. It
// runs after the upstream task's Completed write is durable, so a
// downstream task never observes a missing dependency output. Sibling
// branch outputs are folded in from the completed table so join nodes
// see the shared context, not just this branch's view.
func (s *Scheduler) QueueDownstreamTasks(task *models.WorkflowTask, output json.RawMessage) error {
	snapshot := task.Context.Clone()
	snapshot.NodeOutputs[task.Node.ID] = output

	completed, err := s.queue.ListCompleted()
	if err != nil {
		return err
	}
	for _, sibling := range completed {
		if sibling.ExecutionID != task.ExecutionID || sibling.Status != models.TaskCompleted {
			continue
		}
		if _, ok := snapshot.NodeOutputs[sibling.Node.ID]; !ok {
			snapshot.NodeOutputs[sibling.Node.ID] = sibling.Output
		}
	}

	graph, err := NewGraph(&task.Workflow)
	if err != nil {
		return err
	}

	// Guard against double-enqueue when two parents of a join complete
	// concurrently: skip nodes that already have a task this execution.
	enqueued := make(map[string]bool)
	existing, err := s.TasksByExecution(task.ExecutionID)
	if err != nil {
		return err
	}
	for _, t := range existing {
		enqueued[t.Node.ID] = true
	}

	for _, downstreamID := range graph.Downstream(task.Node.ID) {
		node, ok := graph.Node(downstreamID)
		if !ok || enqueued[downstreamID] {
			continue
		}
		if !graph.DependenciesMet(downstreamID, snapshot) {
			continue
		}
		if _, err := s.PushTask(task.ExecutionID, node, task.Workflow, snapshot, nil); err != nil {
			return err
		}
	}
	return nil
}

// RecoverStalledTasks returns every processing task whose started_at is
// older than the stall timeout to pending with a fresh priority,
// clearing started_at. Returns the number recovered.
func (s *Scheduler) RecoverStalledTasks() (int, error) {
	processing, err := s.queue.ListProcessing()
	if err != nil {
		return 0, err
	}
	nowMS := s.now().UnixMilli()
	recovered := 0
	for _, task := range processing {
		if task.StartedAt == nil {
			continue
		}
		if nowMS-*task.StartedAt <= s.stallTimeout.Milliseconds() {
			continue
		}
		task.Status = models.TaskPending
		task.StartedAt = nil
		if _, err := s.queue.RemoveFromProcessing(task.ID); err != nil {
			return recovered, err
		}
		if err := s.queue.InsertPending(uint64(s.now().UnixMilli()), task); err != nil {
			return recovered, err
		}
		slog.Warn("Recovered stalled task", "task_id", task.ID, "node_id", task.Node.ID)
		recovered++
	}
	return recovered, nil
}

// TasksByExecution returns all tasks of an execution across the three
// tables, oldest first.
func (s *Scheduler) TasksByExecution(executionID string) ([]models.WorkflowTask, error) {
	var out []models.WorkflowTask
	for _, list := range []func() ([]models.WorkflowTask, error){
		s.queue.ListPending, s.queue.ListProcessing, s.queue.ListCompleted,
	} {
		tasks, err := list()
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			if task.ExecutionID == executionID {
				out = append(out, task)
			}
		}
	}
	sortTasksByCreation(out)
	return out, nil
}

// GetTask looks a task up in any table.
func (s *Scheduler) GetTask(taskID string) (models.WorkflowTask, error) {
	return s.queue.GetFromAnyTable(taskID)
}

// ListTasks returns tasks matching the optional workflow and status
// filters, newest first. Empty filters match everything.
func (s *Scheduler) ListTasks(workflowID string, status models.TaskStatus) ([]models.WorkflowTask, error) {
	var out []models.WorkflowTask
	for _, list := range []func() ([]models.WorkflowTask, error){
		s.queue.ListPending, s.queue.ListProcessing, s.queue.ListCompleted,
	} {
		tasks, err := list()
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			if workflowID != "" && task.WorkflowID != workflowID {
				continue
			}
			if status != "" && task.Status != status {
				continue
			}
			out = append(out, task)
		}
	}
	sortTasksByCreation(out)
	// Newest first for listings.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func sortTasksByCreation(tasks []models.WorkflowTask) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j].CreatedAt < tasks[j-1].CreatedAt; j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}
