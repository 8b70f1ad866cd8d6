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

// Package memory provides per-agent vector memory on an embedded
// chromem store: background agents with memory enabled recall relevant
// entries before a run and remember a summary afterwards.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// Entry is one recalled memory.
type Entry struct {
	ID        string
	Content   string
	Relevance float32
}

// Store is the embedded vector memory, one collection per agent.
type Store struct {
	mu sync.Mutex
	db *chromem.DB
}

// Open creates or opens the persistent memory store under dir.
func Open(dir string) (*Store, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "memory"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// collection returns the agent's collection, creating it on first use.
// The default embedding function requires OPENAI_API_KEY; callers see
// its absence as an error on first Remember.
func (s *Store) collection(agentID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.GetOrCreateCollection("agent:"+agentID, nil, nil)
}

// Remember stores a memory for an agent.
func (s *Store) Remember(ctx context.Context, agentID, content string) error {
	collection, err := s.collection(agentID)
	if err != nil {
		return err
	}
	return collection.AddDocument(ctx, chromem.Document{
		ID:      uuid.NewString(),
		Content: content,
		Metadata: map[string]string{
			"stored_at": time.Now().Format(time.RFC3339),
		},
	})
}

// Recall returns up to k memories most relevant to query.
func (s *Store) Recall(ctx context.Context, agentID, query string, k int) ([]Entry, error) {
	collection, err := s.collection(agentID)
	if err != nil {
		return nil, err
	}
	if collection.Count() == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	if count := collection.Count(); k > count {
		k = count
	}
	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory recall failed: %w", err)
	}
	out := make([]Entry, 0, len(results))
	for _, r := range results {
		out = append(out, Entry{ID: r.ID, Content: r.Content, Relevance: r.Similarity})
	}
	return out, nil
}
