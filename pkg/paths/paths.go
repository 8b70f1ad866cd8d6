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

// Package paths resolves the RestFlow home directory layout.
//
// Everything the daemon persists lives under a single user-global
// directory, by default ~/.restflow:
//
//	restflow.db     embedded database
//	restflow.sock   daemon IPC socket
//	master.key      secret-store master key
//	logs/           daemon logs
//	skills/         installed skills
//	scripts/        managed Python scripts
//	traces/         spilled tool outputs, per session/turn
//	bin/            managed toolchain binaries (uv)
//	agents/         agent prompt files
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvDir overrides the RestFlow home directory.
const EnvDir = "RESTFLOW_DIR"

// EnvAgentsDir overrides the agent-prompt directory.
const EnvAgentsDir = "RESTFLOW_AGENTS_DIR"

// EnvMasterKey overrides the on-disk master key.
const EnvMasterKey = "RESTFLOW_MASTER_KEY"

// Dirs holds the resolved directory layout.
type Dirs struct {
	Root string
}

// Resolve returns the RestFlow home directory, creating it if needed.
func Resolve() (Dirs, error) {
	root := os.Getenv(EnvDir)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Dirs{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".restflow")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return Dirs{}, fmt.Errorf("failed to create %s: %w", root, err)
	}
	return Dirs{Root: root}, nil
}

// Database returns the embedded database file path.
func (d Dirs) Database() string { return filepath.Join(d.Root, "restflow.db") }

// Socket returns the daemon IPC socket path.
func (d Dirs) Socket() string { return filepath.Join(d.Root, "restflow.sock") }

// MasterKey returns the master key file path.
func (d Dirs) MasterKey() string { return filepath.Join(d.Root, "master.key") }

// Logs returns the log directory, creating it if needed.
func (d Dirs) Logs() (string, error) { return d.ensure("logs") }

// Skills returns the skills directory, creating it if needed.
func (d Dirs) Skills() (string, error) { return d.ensure("skills") }

// Scripts returns the managed Python scripts directory, creating it if needed.
func (d Dirs) Scripts() (string, error) { return d.ensure("scripts") }

// Bin returns the managed binaries directory, creating it if needed.
func (d Dirs) Bin() (string, error) { return d.ensure("bin") }

// Traces returns the trace spill directory for a session and turn,
// creating it if needed.
func (d Dirs) Traces(sessionID string, turn int) (string, error) {
	dir := filepath.Join(d.Root, "traces", sessionID, fmt.Sprintf("%d", turn))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// Agents returns the agent-prompt directory, honoring RESTFLOW_AGENTS_DIR.
func (d Dirs) Agents() (string, error) {
	if dir := os.Getenv(EnvAgentsDir); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
		return dir, nil
	}
	return d.ensure("agents")
}

func (d Dirs) ensure(name string) (string, error) {
	dir := filepath.Join(d.Root, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}
