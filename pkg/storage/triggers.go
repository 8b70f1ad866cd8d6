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

	"github.com/restflow-ai/restflow/pkg/models"
)

const (
	triggerTable       = "active_triggers"
	triggerWorkflowIdx = "active_trigger_workflow_idx"
)

// TriggerStore persists active triggers, indexed by workflow id.
type TriggerStore struct {
	store *Store
}

// NewTriggerStore creates the store and its backing tables.
func NewTriggerStore(s *Store) (*TriggerStore, error) {
	for _, name := range []string{triggerTable, triggerWorkflowIdx} {
		if _, err := s.Table(name); err != nil {
			return nil, err
		}
	}
	return &TriggerStore{store: s}, nil
}

// Activate persists an active trigger and its workflow index entry.
func (ts *TriggerStore) Activate(trigger models.ActiveTrigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	return ts.store.Update(func(tx *Tx) error {
		if err := tx.Put(triggerTable, trigger.ID, data); err != nil {
			return err
		}
		return tx.Put(triggerWorkflowIdx, trigger.WorkflowID, []byte(trigger.ID))
	})
}

// Deactivate removes a trigger by id.
func (ts *TriggerStore) Deactivate(id string) error {
	trigger, err := ts.Get(id)
	if err != nil {
		return err
	}
	return ts.store.Update(func(tx *Tx) error {
		if _, err := tx.Delete(triggerTable, id); err != nil {
			return err
		}
		_, err := tx.Delete(triggerWorkflowIdx, trigger.WorkflowID)
		return err
	})
}

// Get returns a trigger by id, or ErrNotFound.
func (ts *TriggerStore) Get(id string) (models.ActiveTrigger, error) {
	table, err := ts.store.Table(triggerTable)
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	data, err := table.Get(id)
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	var trigger models.ActiveTrigger
	if err := json.Unmarshal(data, &trigger); err != nil {
		return models.ActiveTrigger{}, fmt.Errorf("failed to unmarshal trigger %s: %w", id, err)
	}
	return trigger, nil
}

// GetByWorkflow returns the active trigger for a workflow, or ErrNotFound.
func (ts *TriggerStore) GetByWorkflow(workflowID string) (models.ActiveTrigger, error) {
	idx, err := ts.store.Table(triggerWorkflowIdx)
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	id, err := idx.Get(workflowID)
	if err != nil {
		return models.ActiveTrigger{}, err
	}
	return ts.Get(string(id))
}

// Update replaces a stored trigger (used for firing statistics).
func (ts *TriggerStore) Update(trigger models.ActiveTrigger) error {
	table, err := ts.store.Table(triggerTable)
	if err != nil {
		return err
	}
	if _, err := table.Get(trigger.ID); errors.Is(err, ErrNotFound) {
		return fmt.Errorf("trigger %s: %w", trigger.ID, ErrNotFound)
	}
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	return table.Put(trigger.ID, data)
}

// List returns all active triggers.
func (ts *TriggerStore) List() ([]models.ActiveTrigger, error) {
	table, err := ts.store.Table(triggerTable)
	if err != nil {
		return nil, err
	}
	kvs, err := table.List()
	if err != nil {
		return nil, err
	}
	out := make([]models.ActiveTrigger, 0, len(kvs))
	for _, kv := range kvs {
		var trigger models.ActiveTrigger
		if err := json.Unmarshal(kv.Value, &trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger %s: %w", kv.Key, err)
		}
		out = append(out, trigger)
	}
	return out, nil
}
