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

package tools

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// processBufferLimit bounds each session's captured stdout/stderr.
const processBufferLimit = 256 * 1024

// ProcessParams is the process tool's input.
type ProcessParams struct {
	Action    string `json:"action" jsonschema:"description=One of spawn poll write kill list log,enum=spawn,enum=poll,enum=write,enum=kill,enum=list,enum=log"`
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Session id for poll/write/kill/log"`
	Command   string `json:"command,omitempty" jsonschema:"description=Command line for spawn"`
	Input     string `json:"input,omitempty" jsonschema:"description=Data to write to stdin"`
}

// processSession is one long-running child process.
type processSession struct {
	mu      sync.Mutex
	id      string
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  boundedBuffer
	stderr  boundedBuffer
	started time.Time
	done    bool
	exitErr error
}

// boundedBuffer keeps the last processBufferLimit bytes written.
type boundedBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > processBufferLimit {
		b.data = b.data[len(b.data)-processBufferLimit:]
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// ProcessTool manages long-running child-process sessions with
// spawn/poll/write/kill/list/log actions. Sessions are serial: the tool
// mutates shared session state.
type ProcessTool struct {
	SerialTool
	mu       sync.Mutex
	sessions map[string]*processSession
}

// NewProcessTool creates the tool.
func NewProcessTool() *ProcessTool {
	return &ProcessTool{sessions: make(map[string]*processSession)}
}

// Name implements Tool.
func (t *ProcessTool) Name() string { return "process" }

// Description implements Tool.
func (t *ProcessTool) Description() string {
	return "Manage long-running child processes: spawn a command, poll its status, write to stdin, read logs, kill it, or list sessions."
}

// ParametersSchema implements Tool.
func (t *ProcessTool) ParametersSchema() map[string]any {
	return SchemaFor(&ProcessParams{})
}

// Execute implements Tool.
func (t *ProcessTool) Execute(ctx context.Context, args map[string]any) (*ToolOutput, error) {
	var params ProcessParams
	if err := DecodeArgs(args, &params); err != nil {
		return Errorf(CategoryConfig, "%v", err), nil
	}

	switch params.Action {
	case "spawn":
		return t.spawn(params.Command)
	case "poll":
		return t.withSession(params.SessionID, t.poll)
	case "write":
		return t.withSession(params.SessionID, func(s *processSession) (*ToolOutput, error) {
			return t.write(s, params.Input)
		})
	case "kill":
		return t.withSession(params.SessionID, t.kill)
	case "log":
		return t.withSession(params.SessionID, t.log)
	case "list":
		return t.list()
	default:
		return Errorf(CategoryConfig, "unknown action %q", params.Action), nil
	}
}

func (t *ProcessTool) spawn(command string) (*ToolOutput, error) {
	if strings.TrimSpace(command) == "" {
		return Errorf(CategoryConfig, "spawn requires a command"), nil
	}
	cmd := exec.Command("sh", "-c", command)
	session := &processSession{
		id:      uuid.NewString(),
		command: command,
		cmd:     cmd,
		started: time.Now(),
	}
	cmd.Stdout = &session.stdout
	cmd.Stderr = &session.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Errorf(CategoryOther, "failed to open stdin: %v", err), nil
	}
	session.stdin = stdin

	if err := cmd.Start(); err != nil {
		return Errorf(CategoryConfig, "failed to start command: %v", err), nil
	}
	go func() {
		err := cmd.Wait()
		session.mu.Lock()
		session.done = true
		session.exitErr = err
		session.mu.Unlock()
	}()

	t.mu.Lock()
	t.sessions[session.id] = session
	t.mu.Unlock()

	return Success(map[string]any{"session_id": session.id, "pid": cmd.Process.Pid}), nil
}

// withSession looks a session up and applies fn, giving every action the
// same "session not found" error shape.
func (t *ProcessTool) withSession(id string, fn func(*processSession) (*ToolOutput, error)) (*ToolOutput, error) {
	if id == "" {
		return Errorf(CategoryConfig, "session_id is required"), nil
	}
	t.mu.Lock()
	session, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		return Errorf(CategoryConfig, "session %q not found", id), nil
	}
	return fn(session)
}

func (t *ProcessTool) poll(s *processSession) (*ToolOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := "running"
	if s.done {
		status = "exited"
		if s.exitErr != nil {
			status = "failed"
		}
	}
	return Success(map[string]any{
		"session_id": s.id,
		"status":     status,
		"uptime_ms":  time.Since(s.started).Milliseconds(),
	}), nil
}

func (t *ProcessTool) write(s *processSession, input string) (*ToolOutput, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return Errorf(CategoryConfig, "session %q has exited", s.id), nil
	}
	if _, err := io.WriteString(s.stdin, input); err != nil {
		return Errorf(CategoryOther, "failed to write to stdin: %v", err), nil
	}
	return Success(map[string]any{"written": len(input)}), nil
}

func (t *ProcessTool) kill(s *processSession) (*ToolOutput, error) {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	t.mu.Lock()
	delete(t.sessions, s.id)
	t.mu.Unlock()
	return Success(map[string]any{"session_id": s.id, "killed": true}), nil
}

func (t *ProcessTool) log(s *processSession) (*ToolOutput, error) {
	return Success(map[string]any{
		"stdout": s.stdout.String(),
		"stderr": s.stderr.String(),
	}), nil
}

func (t *ProcessTool) list() (*ToolOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions := make([]map[string]any, 0, len(t.sessions))
	for _, s := range t.sessions {
		s.mu.Lock()
		sessions = append(sessions, map[string]any{
			"session_id": s.id,
			"command":    s.command,
			"running":    !s.done,
			"started_at": s.started.UnixMilli(),
		})
		s.mu.Unlock()
	}
	return Success(map[string]any{"sessions": sessions}), nil
}

// Shutdown kills every live session.
func (t *ProcessTool) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		delete(t.sessions, id)
	}
}

var _ Tool = (*ProcessTool)(nil)
