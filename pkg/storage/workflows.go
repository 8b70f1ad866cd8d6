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

	"github.com/restflow-ai/restflow/pkg/models"
)

const workflowTable = "workflows"

// WorkflowStore persists workflow definitions.
type WorkflowStore struct {
	table *Table
}

// NewWorkflowStore creates the store and its backing table.
func NewWorkflowStore(s *Store) (*WorkflowStore, error) {
	table, err := s.Table(workflowTable)
	if err != nil {
		return nil, err
	}
	return &WorkflowStore{table: table}, nil
}

// Put inserts or replaces a workflow.
func (ws *WorkflowStore) Put(wf models.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id cannot be empty")
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	return ws.table.Put(wf.ID, data)
}

// Get returns a workflow by id, or ErrNotFound.
func (ws *WorkflowStore) Get(id string) (models.Workflow, error) {
	data, err := ws.table.Get(id)
	if err != nil {
		return models.Workflow{}, err
	}
	var wf models.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return wf, nil
}

// List returns all workflows.
func (ws *WorkflowStore) List() ([]models.Workflow, error) {
	kvs, err := ws.table.List()
	if err != nil {
		return nil, err
	}
	out := make([]models.Workflow, 0, len(kvs))
	for _, kv := range kvs {
		var wf models.Workflow
		if err := json.Unmarshal(kv.Value, &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", kv.Key, err)
		}
		out = append(out, wf)
	}
	return out, nil
}

// Delete removes a workflow, reporting whether it existed.
func (ws *WorkflowStore) Delete(id string) (bool, error) {
	return ws.table.Delete(id)
}
