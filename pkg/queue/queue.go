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

// Package queue implements the persistent three-table workflow task
// queue: pending (keyed by priority + task id), processing and completed
// (keyed by task id). A task is always in exactly one table, and the
// pending -> processing transition happens in a single transaction so at
// most one worker ever claims a task, even across process crashes.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/storage"
)

const (
	pendingTable    = "tasks:pending"
	processingTable = "tasks:processing"
	completedTable  = "tasks:completed"
)

// TaskQueue is the persistent workflow task queue.
type TaskQueue struct {
	store    *storage.Store
	notifier *Notifier
}

// New creates the queue and its backing tables.
func New(s *storage.Store) (*TaskQueue, error) {
	for _, name := range []string{pendingTable, processingTable, completedTable} {
		if _, err := s.Table(name); err != nil {
			return nil, err
		}
	}
	return &TaskQueue{store: s, notifier: NewNotifier()}, nil
}

// Notifier returns the queue's wake-up broadcast.
func (q *TaskQueue) Notifier() *Notifier { return q.notifier }

// pendingKey builds the composite pending key. Priority is zero-padded
// hex so byte order equals numeric order; ties break on task id.
func pendingKey(priority uint64, taskID string) string {
	return fmt.Sprintf("%016x:%s", priority, taskID)
}

// InsertPending writes a task into the pending table and wakes consumers.
func (q *TaskQueue) InsertPending(priority uint64, task models.WorkflowTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	table, err := q.store.Table(pendingTable)
	if err != nil {
		return err
	}
	if err := table.Put(pendingKey(priority, task.ID), data); err != nil {
		return err
	}
	q.notifier.Notify()
	return nil
}

// AtomicPopPending removes the lowest-key pending task, applies mutate
// (typically: set status Running and stamp started_at) and writes the
// result into processing — all in one transaction. Returns nil when the
// pending table is empty.
//
// This is the only sanctioned pending -> processing transition. A crash
// before commit leaves the task pending; a crash after leaves it in
// processing, where stall recovery will find it.
func (q *TaskQueue) AtomicPopPending(mutate func(*models.WorkflowTask)) (*models.WorkflowTask, error) {
	var popped *models.WorkflowTask
	err := q.store.Update(func(tx *storage.Tx) error {
		key, data, err := tx.First(pendingTable)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var task models.WorkflowTask
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("failed to unmarshal pending task %s: %w", key, err)
		}
		if _, err := tx.Delete(pendingTable, key); err != nil {
			return err
		}
		if mutate != nil {
			mutate(&task)
		}
		updated, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := tx.Put(processingTable, task.ID, updated); err != nil {
			return err
		}
		popped = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

// GetFromProcessing returns a task from the processing table.
func (q *TaskQueue) GetFromProcessing(taskID string) (models.WorkflowTask, error) {
	table, err := q.store.Table(processingTable)
	if err != nil {
		return models.WorkflowTask{}, err
	}
	data, err := table.Get(taskID)
	if err != nil {
		return models.WorkflowTask{}, err
	}
	return unmarshalTask(taskID, data)
}

// MoveToCompleted atomically removes a task from processing and writes
// its final form into completed.
func (q *TaskQueue) MoveToCompleted(task models.WorkflowTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return q.store.Update(func(tx *storage.Tx) error {
		if _, err := tx.Delete(processingTable, task.ID); err != nil {
			return err
		}
		return tx.Put(completedTable, task.ID, data)
	})
}

// RemoveFromProcessing deletes a task from processing (recovery hook).
func (q *TaskQueue) RemoveFromProcessing(taskID string) (bool, error) {
	table, err := q.store.Table(processingTable)
	if err != nil {
		return false, err
	}
	return table.Delete(taskID)
}

// GetFromAnyTable looks a task up across all three tables.
func (q *TaskQueue) GetFromAnyTable(taskID string) (models.WorkflowTask, error) {
	for _, name := range []string{processingTable, completedTable} {
		table, err := q.store.Table(name)
		if err != nil {
			return models.WorkflowTask{}, err
		}
		if data, err := table.Get(taskID); err == nil {
			return unmarshalTask(taskID, data)
		}
	}
	// Pending keys are composite; scan for the task id suffix.
	pending, err := q.ListPending()
	if err != nil {
		return models.WorkflowTask{}, err
	}
	for _, task := range pending {
		if task.ID == taskID {
			return task, nil
		}
	}
	return models.WorkflowTask{}, storage.ErrNotFound
}

// ListPending returns all pending tasks in priority order.
func (q *TaskQueue) ListPending() ([]models.WorkflowTask, error) {
	return q.listTable(pendingTable)
}

// ListProcessing returns all in-flight tasks.
func (q *TaskQueue) ListProcessing() ([]models.WorkflowTask, error) {
	return q.listTable(processingTable)
}

// ListCompleted returns all terminal tasks.
func (q *TaskQueue) ListCompleted() ([]models.WorkflowTask, error) {
	return q.listTable(completedTable)
}

// ClearAll drains all three tables.
func (q *TaskQueue) ClearAll() error {
	for _, name := range []string{pendingTable, processingTable, completedTable} {
		table, err := q.store.Table(name)
		if err != nil {
			return err
		}
		if err := table.Clear(); err != nil {
			return err
		}
	}
	return nil
}

func (q *TaskQueue) listTable(name string) ([]models.WorkflowTask, error) {
	table, err := q.store.Table(name)
	if err != nil {
		return nil, err
	}
	kvs, err := table.List()
	if err != nil {
		return nil, err
	}
	out := make([]models.WorkflowTask, 0, len(kvs))
	for _, kv := range kvs {
		task, err := unmarshalTask(kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func unmarshalTask(key string, data []byte) (models.WorkflowTask, error) {
	var task models.WorkflowTask
	if err := json.Unmarshal(data, &task); err != nil {
		return models.WorkflowTask{}, fmt.Errorf("failed to unmarshal task %s: %w", key, err)
	}
	return task, nil
}
