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

package secrets

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/restflow-ai/restflow/pkg/storage"
)

const secretsTable = "secrets"

// Resolver resolves a secret key to its plaintext value. It is the only
// path credentials take through the core.
type Resolver interface {
	Resolve(key string) (string, error)
}

// Secret is a stored secret's metadata plus its decrypted value.
type Secret struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// storedSecret is the persisted form; the value is AES-GCM ciphertext.
type storedSecret struct {
	Key         string `json:"key"`
	Ciphertext  []byte `json:"ciphertext"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Store is the encrypted secret store. It implements Resolver.
type Store struct {
	table     *storage.Table
	masterKey []byte
}

// NewStore creates the store over the shared database.
func NewStore(s *storage.Store, masterKey []byte) (*Store, error) {
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes", keySize)
	}
	table, err := s.Table(secretsTable)
	if err != nil {
		return nil, err
	}
	return &Store{table: table, masterKey: masterKey}, nil
}

// Set creates or updates a secret. An empty description clears it.
func (st *Store) Set(key, value, description string) error {
	if key == "" {
		return fmt.Errorf("secret key cannot be empty")
	}
	now := time.Now().UnixMilli()
	createdAt := now
	if existing, err := st.get(key); err == nil {
		createdAt = existing.CreatedAt
	}
	ciphertext, err := encrypt(st.masterKey, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}
	data, err := json.Marshal(storedSecret{
		Key:         key,
		Ciphertext:  ciphertext,
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	return st.table.Put(key, data)
}

// Get returns a secret with its decrypted value, or storage.ErrNotFound.
func (st *Store) Get(key string) (Secret, error) {
	stored, err := st.get(key)
	if err != nil {
		return Secret{}, err
	}
	plaintext, err := decrypt(st.masterKey, stored.Ciphertext)
	if err != nil {
		return Secret{}, err
	}
	return Secret{
		Key:         stored.Key,
		Value:       string(plaintext),
		Description: stored.Description,
		CreatedAt:   stored.CreatedAt,
		UpdatedAt:   stored.UpdatedAt,
	}, nil
}

// Resolve implements Resolver.
func (st *Store) Resolve(key string) (string, error) {
	secret, err := st.Get(key)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	return secret.Value, nil
}

// List returns secret metadata (keys and descriptions, never values).
func (st *Store) List() ([]Secret, error) {
	kvs, err := st.table.List()
	if err != nil {
		return nil, err
	}
	out := make([]Secret, 0, len(kvs))
	for _, kv := range kvs {
		var stored storedSecret
		if err := json.Unmarshal(kv.Value, &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal secret %s: %w", kv.Key, err)
		}
		out = append(out, Secret{
			Key:         stored.Key,
			Description: stored.Description,
			CreatedAt:   stored.CreatedAt,
			UpdatedAt:   stored.UpdatedAt,
		})
	}
	return out, nil
}

// Delete removes a secret, reporting whether it existed.
func (st *Store) Delete(key string) (bool, error) {
	return st.table.Delete(key)
}

func (st *Store) get(key string) (storedSecret, error) {
	data, err := st.table.Get(key)
	if err != nil {
		return storedSecret{}, err
	}
	var stored storedSecret
	if err := json.Unmarshal(data, &stored); err != nil {
		return storedSecret{}, fmt.Errorf("failed to unmarshal secret %s: %w", key, err)
	}
	return stored, nil
}

// StaticResolver is a map-backed resolver for tests and CLI overrides.
type StaticResolver map[string]string

// Resolve implements Resolver.
func (r StaticResolver) Resolve(key string) (string, error) {
	value, ok := r[key]
	if !ok {
		return "", fmt.Errorf("secret %q: %w", key, storage.ErrNotFound)
	}
	return value, nil
}
