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

package storage

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/restflow-ai/restflow/pkg/models"
)

const (
	agentTaskTable     = "agent_tasks"
	taskEventTable     = "task_events"
	taskEventIndex     = "task_event_index"
	taskMessageTable   = "task_messages"
	taskMessagePending = "task_message_pending_idx"
)

// AgentTaskStore persists background agents plus their per-task event
// logs and messages. Index keys are "{task_id}:{sortable}:{child_id}"
// composites so prefix scans return children in order.
type AgentTaskStore struct {
	store *Store
	// eventSeq breaks same-millisecond ordering ties in insertion order.
	eventSeq atomic.Uint64
}

// NewAgentTaskStore creates the store and its backing tables.
func NewAgentTaskStore(s *Store) (*AgentTaskStore, error) {
	tables := []string{
		agentTaskTable, taskEventTable, taskEventIndex,
		taskMessageTable, taskMessagePending,
	}
	for _, name := range tables {
		if _, err := s.Table(name); err != nil {
			return nil, err
		}
	}
	return &AgentTaskStore{store: s}, nil
}

// PutTask inserts or replaces a background agent.
func (as *AgentTaskStore) PutTask(task models.BackgroundAgent) error {
	if task.ID == "" {
		return fmt.Errorf("task id cannot be empty")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal agent task: %w", err)
	}
	table, err := as.store.Table(agentTaskTable)
	if err != nil {
		return err
	}
	return table.Put(task.ID, data)
}

// GetTask returns a background agent by id, or ErrNotFound.
func (as *AgentTaskStore) GetTask(id string) (models.BackgroundAgent, error) {
	table, err := as.store.Table(agentTaskTable)
	if err != nil {
		return models.BackgroundAgent{}, err
	}
	data, err := table.Get(id)
	if err != nil {
		return models.BackgroundAgent{}, err
	}
	var task models.BackgroundAgent
	if err := json.Unmarshal(data, &task); err != nil {
		return models.BackgroundAgent{}, fmt.Errorf("failed to unmarshal agent task %s: %w", id, err)
	}
	return task, nil
}

// ListTasks returns all background agents.
func (as *AgentTaskStore) ListTasks() ([]models.BackgroundAgent, error) {
	table, err := as.store.Table(agentTaskTable)
	if err != nil {
		return nil, err
	}
	kvs, err := table.List()
	if err != nil {
		return nil, err
	}
	out := make([]models.BackgroundAgent, 0, len(kvs))
	for _, kv := range kvs {
		var task models.BackgroundAgent
		if err := json.Unmarshal(kv.Value, &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent task %s: %w", kv.Key, err)
		}
		out = append(out, task)
	}
	return out, nil
}

// DeleteTask removes a background agent and its events and messages.
func (as *AgentTaskStore) DeleteTask(id string) (bool, error) {
	if _, err := as.DeleteEventsForTask(id); err != nil {
		return false, err
	}
	table, err := as.store.Table(agentTaskTable)
	if err != nil {
		return false, err
	}
	return table.Delete(id)
}

// AppendEvent stores a task event and its ordering index entry in one
// transaction. The index key sorts by (timestamp, id) within the task.
func (as *AgentTaskStore) AppendEvent(event models.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	indexKey := fmt.Sprintf("%s:%016x:%08x:%s",
		event.TaskID, event.Timestamp, as.eventSeq.Add(1), event.ID)
	return as.store.Update(func(tx *Tx) error {
		if err := tx.Put(taskEventTable, event.ID, data); err != nil {
			return err
		}
		return tx.Put(taskEventIndex, indexKey, []byte(event.ID))
	})
}

// ListEvents returns all events for a task in (timestamp, id) order.
func (as *AgentTaskStore) ListEvents(taskID string) ([]models.TaskEvent, error) {
	idx, err := as.store.Table(taskEventIndex)
	if err != nil {
		return nil, err
	}
	events, err := as.store.Table(taskEventTable)
	if err != nil {
		return nil, err
	}
	kvs, err := idx.ListPrefix(taskID + ":")
	if err != nil {
		return nil, err
	}
	out := make([]models.TaskEvent, 0, len(kvs))
	for _, kv := range kvs {
		data, err := events.Get(string(kv.Value))
		if err != nil {
			continue // index entry outlived the event
		}
		var event models.TaskEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", kv.Value, err)
		}
		out = append(out, event)
	}
	return out, nil
}

// DeleteEventsForTask removes all events of a task, returning the count.
func (as *AgentTaskStore) DeleteEventsForTask(taskID string) (int, error) {
	idx, err := as.store.Table(taskEventIndex)
	if err != nil {
		return 0, err
	}
	kvs, err := idx.ListPrefix(taskID + ":")
	if err != nil {
		return 0, err
	}
	if len(kvs) == 0 {
		return 0, nil
	}
	err = as.store.Update(func(tx *Tx) error {
		for _, kv := range kvs {
			if _, err := tx.Delete(taskEventTable, string(kv.Value)); err != nil {
				return err
			}
			if _, err := tx.Delete(taskEventIndex, kv.Key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(kvs), nil
}

// PushMessage stores a task message; pending user messages also get a
// pending-index entry for cheap consumption.
func (as *AgentTaskStore) PushMessage(msg models.TaskMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msgKey := fmt.Sprintf("%s:%016x:%s", msg.TaskID, msg.CreatedAt, msg.ID)
	return as.store.Update(func(tx *Tx) error {
		if err := tx.Put(taskMessageTable, msgKey, data); err != nil {
			return err
		}
		if msg.Source == models.SourceUser && msg.Status == models.MessagePending {
			return tx.Put(taskMessagePending, msgKey, []byte(msg.ID))
		}
		return nil
	})
}

// ConsumePendingMessages atomically returns and marks consumed all
// pending user messages for a task, in creation order.
func (as *AgentTaskStore) ConsumePendingMessages(taskID string) ([]models.TaskMessage, error) {
	var consumed []models.TaskMessage
	err := as.store.Update(func(tx *Tx) error {
		kvs, err := tx.ListPrefix(taskMessagePending, taskID+":")
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			data, err := tx.Get(taskMessageTable, kv.Key)
			if err != nil {
				continue
			}
			var msg models.TaskMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("failed to unmarshal message %s: %w", kv.Key, err)
			}
			msg.Status = models.MessageConsumed
			updated, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := tx.Put(taskMessageTable, kv.Key, updated); err != nil {
				return err
			}
			if _, err := tx.Delete(taskMessagePending, kv.Key); err != nil {
				return err
			}
			consumed = append(consumed, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// ListMessages returns all messages for a task in creation order.
func (as *AgentTaskStore) ListMessages(taskID string) ([]models.TaskMessage, error) {
	table, err := as.store.Table(taskMessageTable)
	if err != nil {
		return nil, err
	}
	kvs, err := table.ListPrefix(taskID + ":")
	if err != nil {
		return nil, err
	}
	out := make([]models.TaskMessage, 0, len(kvs))
	for _, kv := range kvs {
		var msg models.TaskMessage
		if err := json.Unmarshal(kv.Value, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %s: %w", kv.Key, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
