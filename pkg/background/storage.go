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

// Package background implements the background-agent runtime: typed
// storage queries, the in-memory firing queue, the worker pool, the
// task executor driving ReAct runs and the due-time ticker.
package background

import (
	"fmt"
	"time"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/storage"
)

// Storage provides typed queries over the agent-task tables.
type Storage struct {
	tasks *storage.AgentTaskStore
}

// NewStorage wraps the low-level store.
func NewStorage(tasks *storage.AgentTaskStore) *Storage {
	return &Storage{tasks: tasks}
}

// Create validates and persists a new background agent.
func (s *Storage) Create(task models.BackgroundAgent) error {
	if task.Name == "" {
		return fmt.Errorf("background agent requires a name")
	}
	if task.AgentID == "" {
		return fmt.Errorf("background agent requires an agent_id")
	}
	if err := task.Schedule.Validate(); err != nil {
		return err
	}
	return s.tasks.PutTask(task)
}

// Get returns a background agent by id.
func (s *Storage) Get(id string) (models.BackgroundAgent, error) {
	return s.tasks.GetTask(id)
}

// List returns all background agents.
func (s *Storage) List() ([]models.BackgroundAgent, error) {
	return s.tasks.ListTasks()
}

// Update replaces a stored background agent, stamping updated_at.
func (s *Storage) Update(task models.BackgroundAgent) error {
	task.UpdatedAt = time.Now().UnixMilli()
	return s.tasks.PutTask(task)
}

// Delete removes a background agent with its events and messages.
func (s *Storage) Delete(id string) (bool, error) {
	return s.tasks.DeleteTask(id)
}

// ListRunnable returns active agents whose next_run_at is due at now.
func (s *Storage) ListRunnable(now int64) ([]models.BackgroundAgent, error) {
	all, err := s.tasks.ListTasks()
	if err != nil {
		return nil, err
	}
	var due []models.BackgroundAgent
	for _, task := range all {
		if task.Status != models.AgentActive {
			continue
		}
		if task.NextRunAt == nil || *task.NextRunAt > now {
			continue
		}
		due = append(due, task)
	}
	return due, nil
}

// MarkRunning flips an agent to Running for one firing. Clearing
// next_run_at here keeps the at-most-one-active-firing invariant: the
// ticker cannot enqueue it again until the firing finishes.
func (s *Storage) MarkRunning(id string) (models.BackgroundAgent, error) {
	task, err := s.tasks.GetTask(id)
	if err != nil {
		return models.BackgroundAgent{}, err
	}
	task.Status = models.AgentRunning
	task.NextRunAt = nil
	task.UpdatedAt = time.Now().UnixMilli()
	if err := s.tasks.PutTask(task); err != nil {
		return models.BackgroundAgent{}, err
	}
	return task, nil
}

// MarkFinished records a firing result: counts, last_run_at and the
// deterministic next_run_at recomputation. Recurring schedules return
// the agent to Active; exhausted ones settle on Completed or Failed.
func (s *Storage) MarkFinished(id string, success bool) (models.BackgroundAgent, error) {
	task, err := s.tasks.GetTask(id)
	if err != nil {
		return models.BackgroundAgent{}, err
	}
	now := time.Now().UnixMilli()
	task.LastRunAt = &now
	if success {
		task.SuccessCount++
	} else {
		task.FailureCount++
	}
	task.NextRunAt = task.Schedule.NextRunAfter(task.LastRunAt, now)
	switch {
	case task.NextRunAt != nil:
		task.Status = models.AgentActive
	case success:
		task.Status = models.AgentCompleted
	default:
		task.Status = models.AgentFailed
	}
	task.UpdatedAt = now
	if err := s.tasks.PutTask(task); err != nil {
		return models.BackgroundAgent{}, err
	}
	return task, nil
}

// AppendEvent logs a task event.
func (s *Storage) AppendEvent(event models.TaskEvent) error {
	return s.tasks.AppendEvent(event)
}

// ListEvents returns a task's events in order.
func (s *Storage) ListEvents(taskID string) ([]models.TaskEvent, error) {
	return s.tasks.ListEvents(taskID)
}

// PushMessage persists a user or agent message for a task.
func (s *Storage) PushMessage(msg models.TaskMessage) error {
	return s.tasks.PushMessage(msg)
}

// ConsumePendingMessages drains pending user messages for a task.
func (s *Storage) ConsumePendingMessages(taskID string) ([]models.TaskMessage, error) {
	return s.tasks.ConsumePendingMessages(taskID)
}
