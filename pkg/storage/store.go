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

// Package storage provides the embedded key-value store backing every
// persistent component: one SQLite file holding named tables of
// key -> bytes, with multi-step writes executed in a single transaction.
//
// SQLite is used strictly as a KV engine. Each named table maps to a SQL
// table "kv_<name>" with a TEXT primary key and a BLOB value; iteration
// order is key order, which the queue exploits for its composite
// (priority, task_id) keys.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a key or entity does not exist.
var ErrNotFound = errors.New("not found")

// KV is one key/value pair returned by list operations.
type KV struct {
	Key   string
	Value []byte
}

// Store is the embedded database handle. It is safe for concurrent use;
// SQLite serializes writers and WAL mode keeps readers unblocked.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

// Open opens (creating if necessary) the database file at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		// A shared cache keeps one in-memory database across pool conns.
		dsn = "file::memory:?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between goroutines.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db, tables: make(map[string]bool)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// sqlName maps a logical table name (which may contain ':') to a safe
// SQL identifier.
func sqlName(name string) string {
	return `"kv_` + strings.ReplaceAll(name, `"`, ``) + `"`
}

// ensureTable creates the backing SQL table once per logical name.
func (s *Store) ensureTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[name] {
		return nil
	}
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v BLOB NOT NULL)`,
		sqlName(name))
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	s.tables[name] = true
	return nil
}

// Table returns a handle to the named table, creating it if needed.
func (s *Store) Table(name string) (*Table, error) {
	if err := s.ensureTable(name); err != nil {
		return nil, err
	}
	return &Table{store: s, name: name}, nil
}

// Update runs fn inside a single write transaction. All reads and writes
// performed through the Tx commit or roll back together.
func (s *Store) Update(fn func(tx *Tx) error) error {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{store: s, tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Table is a handle to one named KV table. Single operations are
// individually atomic; use Store.Update for multi-step writes.
type Table struct {
	store *Store
	name  string
}

// Name returns the logical table name.
func (t *Table) Name() string { return t.name }

// Put inserts or replaces a key.
func (t *Table) Put(key string, value []byte) error {
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (k, v) VALUES (?, ?)`, sqlName(t.name))
	if _, err := t.store.db.Exec(stmt, key, value); err != nil {
		return fmt.Errorf("failed to put %s[%s]: %w", t.name, key, err)
	}
	return nil
}

// Get returns the value for key, or ErrNotFound.
func (t *Table) Get(key string) ([]byte, error) {
	stmt := fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, sqlName(t.name))
	var value []byte
	err := t.store.db.QueryRow(stmt, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", t.name, key, err)
	}
	return value, nil
}

// Delete removes a key, reporting whether it existed.
func (t *Table) Delete(key string) (bool, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, sqlName(t.name))
	res, err := t.store.db.Exec(stmt, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s[%s]: %w", t.name, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns all pairs in key order.
func (t *Table) List() ([]KV, error) {
	stmt := fmt.Sprintf(`SELECT k, v FROM %s ORDER BY k`, sqlName(t.name))
	return t.store.queryKVs(stmt)
}

// ListPrefix returns all pairs whose key starts with prefix, in key order.
func (t *Table) ListPrefix(prefix string) ([]KV, error) {
	stmt := fmt.Sprintf(
		`SELECT k, v FROM %s WHERE k >= ? AND k < ? ORDER BY k`, sqlName(t.name))
	return t.store.queryKVs(stmt, prefix, prefix+"￿")
}

// First returns the smallest key and its value, or ErrNotFound when the
// table is empty.
func (t *Table) First() (string, []byte, error) {
	stmt := fmt.Sprintf(`SELECT k, v FROM %s ORDER BY k LIMIT 1`, sqlName(t.name))
	var key string
	var value []byte
	err := t.store.db.QueryRow(stmt).Scan(&key, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read first of %s: %w", t.name, err)
	}
	return key, value, nil
}

// Count returns the number of keys.
func (t *Table) Count() (int, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, sqlName(t.name))
	var n int
	if err := t.store.db.QueryRow(stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.name, err)
	}
	return n, nil
}

// Clear removes all keys.
func (t *Table) Clear() error {
	stmt := fmt.Sprintf(`DELETE FROM %s`, sqlName(t.name))
	if _, err := t.store.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to clear %s: %w", t.name, err)
	}
	return nil
}

func (s *Store) queryKVs(stmt string, args ...any) ([]KV, error) {
	rows, err := s.db.Query(stmt, args...)
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
