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
	"errors"
	"fmt"
	"time"

	"github.com/restflow-ai/restflow/pkg/models"
)

const (
	checkpointTable        = "agent_checkpoints"
	checkpointExecutionIdx = "agent_checkpoint_execution_idx"
	checkpointTaskIdx      = "agent_checkpoint_task_idx"
)

// ErrStaleCheckpoint is returned when a checkpoint's version is not
// strictly greater than the latest persisted version for its task.
var ErrStaleCheckpoint = errors.New("checkpoint version not greater than existing")

// CheckpointStore persists ReAct state snapshots with execution and task
// indices. Index keys encode the version so the largest key under a
// prefix is the resume point.
type CheckpointStore struct {
	store *Store
}

// NewCheckpointStore creates the store and its backing tables.
func NewCheckpointStore(s *Store) (*CheckpointStore, error) {
	for _, name := range []string{checkpointTable, checkpointExecutionIdx, checkpointTaskIdx} {
		if _, err := s.Table(name); err != nil {
			return nil, err
		}
	}
	return &CheckpointStore{store: s}, nil
}

// Save persists a checkpoint and its index entries in one transaction.
// Versions must be strictly increasing per task.
func (cs *CheckpointStore) Save(cp models.AgentCheckpoint) error {
	if cp.TaskID != "" {
		latest, err := cs.LatestByTask(cp.TaskID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && cp.Version <= latest.Version {
			return fmt.Errorf("checkpoint for task %s version %d: %w",
				cp.TaskID, cp.Version, ErrStaleCheckpoint)
		}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return cs.store.Update(func(tx *Tx) error {
		if err := tx.Put(checkpointTable, cp.ID, data); err != nil {
			return err
		}
		execKey := fmt.Sprintf("%s:%016x:%s", cp.ExecutionID, cp.Version, cp.ID)
		if err := tx.Put(checkpointExecutionIdx, execKey, []byte(cp.ID)); err != nil {
			return err
		}
		if cp.TaskID != "" {
			taskKey := fmt.Sprintf("%s:%016x:%s", cp.TaskID, cp.Version, cp.ID)
			if err := tx.Put(checkpointTaskIdx, taskKey, []byte(cp.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns a checkpoint by id, or ErrNotFound.
func (cs *CheckpointStore) Get(id string) (models.AgentCheckpoint, error) {
	table, err := cs.store.Table(checkpointTable)
	if err != nil {
		return models.AgentCheckpoint{}, err
	}
	data, err := table.Get(id)
	if err != nil {
		return models.AgentCheckpoint{}, err
	}
	var cp models.AgentCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return models.AgentCheckpoint{}, fmt.Errorf("failed to unmarshal checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// LatestByTask returns the highest-version checkpoint for a task.
func (cs *CheckpointStore) LatestByTask(taskID string) (models.AgentCheckpoint, error) {
	return cs.latestByIndex(checkpointTaskIdx, taskID)
}

// LatestByExecution returns the highest-version checkpoint for an execution.
func (cs *CheckpointStore) LatestByExecution(executionID string) (models.AgentCheckpoint, error) {
	return cs.latestByIndex(checkpointExecutionIdx, executionID)
}

func (cs *CheckpointStore) latestByIndex(index, parent string) (models.AgentCheckpoint, error) {
	idx, err := cs.store.Table(index)
	if err != nil {
		return models.AgentCheckpoint{}, err
	}
	kvs, err := idx.ListPrefix(parent + ":")
	if err != nil {
		return models.AgentCheckpoint{}, err
	}
	if len(kvs) == 0 {
		return models.AgentCheckpoint{}, ErrNotFound
	}
	// Keys sort by version; the last entry is the resume point.
	return cs.Get(string(kvs[len(kvs)-1].Value))
}

// DeleteExpired garbage-collects checkpoints with expired_at <= now,
// returning how many were removed.
func (cs *CheckpointStore) DeleteExpired(now time.Time) (int, error) {
	table, err := cs.store.Table(checkpointTable)
	if err != nil {
		return 0, err
	}
	kvs, err := table.List()
	if err != nil {
		return 0, err
	}
	nowMS := now.UnixMilli()
	removed := 0
	for _, kv := range kvs {
		var cp models.AgentCheckpoint
		if err := json.Unmarshal(kv.Value, &cp); err != nil {
			continue
		}
		if cp.ExpiredAt > nowMS {
			continue
		}
		err := cs.store.Update(func(tx *Tx) error {
			if _, err := tx.Delete(checkpointTable, cp.ID); err != nil {
				return err
			}
			execKey := fmt.Sprintf("%s:%016x:%s", cp.ExecutionID, cp.Version, cp.ID)
			if _, err := tx.Delete(checkpointExecutionIdx, execKey); err != nil {
				return err
			}
			if cp.TaskID != "" {
				taskKey := fmt.Sprintf("%s:%016x:%s", cp.TaskID, cp.Version, cp.ID)
				if _, err := tx.Delete(checkpointTaskIdx, taskKey); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
