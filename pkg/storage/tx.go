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
	"database/sql"
	"errors"
	"fmt"
)

// Tx gives transactional access to tables inside Store.Update. The
// backing SQL tables must already exist (Table handles create them at
// construction time).
type Tx struct {
	store *Store
	tx    *sql.Tx
}

// Put inserts or replaces a key within the transaction.
func (t *Tx) Put(table, key string, value []byte) error {
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (k, v) VALUES (?, ?)`, sqlName(table))
	if _, err := t.tx.Exec(stmt, key, value); err != nil {
		return fmt.Errorf("failed to put %s[%s]: %w", table, key, err)
	}
	return nil
}

// Get returns a value within the transaction, or ErrNotFound.
func (t *Tx) Get(table, key string) ([]byte, error) {
	stmt := fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, sqlName(table))
	var value []byte
	err := t.tx.QueryRow(stmt, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", table, key, err)
	}
	return value, nil
}

// Delete removes a key within the transaction, reporting whether it existed.
func (t *Tx) Delete(table, key string) (bool, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, sqlName(table))
	res, err := t.tx.Exec(stmt, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s[%s]: %w", table, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// First returns the smallest key and value of a table within the
// transaction, or ErrNotFound when empty.
func (t *Tx) First(table string) (string, []byte, error) {
	stmt := fmt.Sprintf(`SELECT k, v FROM %s ORDER BY k LIMIT 1`, sqlName(table))
	var key string
	var value []byte
	err := t.tx.QueryRow(stmt).Scan(&key, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read first of %s: %w", table, err)
	}
	return key, value, nil
}

// ListPrefix returns all pairs whose key starts with prefix, in key
// order, within the transaction.
func (t *Tx) ListPrefix(table, prefix string) ([]KV, error) {
	stmt := fmt.Sprintf(
		`SELECT k, v FROM %s WHERE k >= ? AND k < ? ORDER BY k`, sqlName(table))
	rows, err := t.tx.Query(stmt, prefix, prefix+"￿")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}
