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

const (
	historyDataTable  = "execution_history:data"
	historyIndexTable = "execution_history:index"
)

// HistoryStore persists per-execution summaries. The index table orders
// executions by start time for recent-first listings.
type HistoryStore struct {
	store *Store
}

// NewHistoryStore creates the store and its backing tables.
func NewHistoryStore(s *Store) (*HistoryStore, error) {
	for _, name := range []string{historyDataTable, historyIndexTable} {
		if _, err := s.Table(name); err != nil {
			return nil, err
		}
	}
	return &HistoryStore{store: s}, nil
}

// Put inserts or replaces an execution summary.
func (hs *HistoryStore) Put(summary models.ExecutionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	indexKey := fmt.Sprintf("%016x:%s", summary.StartedAt, summary.ExecutionID)
	return hs.store.Update(func(tx *Tx) error {
		if err := tx.Put(historyDataTable, summary.ExecutionID, data); err != nil {
			return err
		}
		return tx.Put(historyIndexTable, indexKey, []byte(summary.ExecutionID))
	})
}

// Get returns the summary for an execution, or ErrNotFound.
func (hs *HistoryStore) Get(executionID string) (models.ExecutionSummary, error) {
	table, err := hs.store.Table(historyDataTable)
	if err != nil {
		return models.ExecutionSummary{}, err
	}
	data, err := table.Get(executionID)
	if err != nil {
		return models.ExecutionSummary{}, err
	}
	var summary models.ExecutionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return models.ExecutionSummary{}, fmt.Errorf("failed to unmarshal summary %s: %w", executionID, err)
	}
	return summary, nil
}

// ListRecent returns up to limit summaries, newest first.
func (hs *HistoryStore) ListRecent(limit int) ([]models.ExecutionSummary, error) {
	idx, err := hs.store.Table(historyIndexTable)
	if err != nil {
		return nil, err
	}
	kvs, err := idx.List()
	if err != nil {
		return nil, err
	}
	out := make([]models.ExecutionSummary, 0, limit)
	for i := len(kvs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		summary, err := hs.Get(string(kvs[i].Value))
		if err != nil {
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}
