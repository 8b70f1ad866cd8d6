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

package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/restflow-ai/restflow/pkg/paths"
	"github.com/restflow-ai/restflow/pkg/storage"
)

const (
	traceTable      = "tool_traces"
	traceSessionIdx = "tool_trace_session_idx"

	// DefaultSpillThreshold is the output size past which trace output
	// moves to a file under traces/<session>/<turn>/.
	DefaultSpillThreshold = 16 * 1024
)

// TraceType discriminates persisted tool-trace entries.
type TraceType string

const (
	TraceTurnStarted       TraceType = "turn_started"
	TraceTurnCompleted     TraceType = "turn_completed"
	TraceTurnFailed        TraceType = "turn_failed"
	TraceTurnCancelled     TraceType = "turn_cancelled"
	TraceToolCallStarted   TraceType = "tool_call_started"
	TraceToolCallCompleted TraceType = "tool_call_completed"
)

// ToolTrace is one persisted trace entry, per session and turn.
type ToolTrace struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Turn      int             `json:"turn"`
	Type      TraceType       `json:"type"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Output    string          `json:"output,omitempty"`
	// OutputRef points at a spill file when the output exceeded the
	// size threshold.
	OutputRef string `json:"output_ref,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// TraceRecorder persists tool traces with large-output spillover.
type TraceRecorder struct {
	store     *storage.Store
	dirs      paths.Dirs
	threshold int
}

// NewTraceRecorder creates the recorder and its backing tables.
func NewTraceRecorder(s *storage.Store, dirs paths.Dirs) (*TraceRecorder, error) {
	for _, name := range []string{traceTable, traceSessionIdx} {
		if _, err := s.Table(name); err != nil {
			return nil, err
		}
	}
	return &TraceRecorder{store: s, dirs: dirs, threshold: DefaultSpillThreshold}, nil
}

// Record sanitizes, spills oversized output and persists a trace.
func (r *TraceRecorder) Record(trace ToolTrace) error {
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if trace.Timestamp == 0 {
		trace.Timestamp = time.Now().UnixMilli()
	}
	trace.Output = Redact(trace.Output)
	trace.Args = json.RawMessage(Redact(string(trace.Args)))

	if len(trace.Output) > r.threshold {
		dir, err := r.dirs.Traces(trace.SessionID, trace.Turn)
		if err != nil {
			return err
		}
		ref := filepath.Join(dir, trace.ID+".out")
		if err := os.WriteFile(ref, []byte(trace.Output), 0o600); err != nil {
			return fmt.Errorf("failed to spill trace output: %w", err)
		}
		trace.OutputRef = ref
		trace.Output = ""
	}

	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	indexKey := fmt.Sprintf("%s:%016x:%s", trace.SessionID, trace.Timestamp, trace.ID)
	return r.store.Update(func(tx *storage.Tx) error {
		if err := tx.Put(traceTable, trace.ID, data); err != nil {
			return err
		}
		return tx.Put(traceSessionIdx, indexKey, []byte(trace.ID))
	})
}

// ListBySession returns a session's traces in time order.
func (r *TraceRecorder) ListBySession(sessionID string) ([]ToolTrace, error) {
	idx, err := r.store.Table(traceSessionIdx)
	if err != nil {
		return nil, err
	}
	table, err := r.store.Table(traceTable)
	if err != nil {
		return nil, err
	}
	kvs, err := idx.ListPrefix(sessionID + ":")
	if err != nil {
		return nil, err
	}
	out := make([]ToolTrace, 0, len(kvs))
	for _, kv := range kvs {
		data, err := table.Get(string(kv.Value))
		if err != nil {
			continue
		}
		var trace ToolTrace
		if err := json.Unmarshal(data, &trace); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace %s: %w", kv.Value, err)
		}
		out = append(out, trace)
	}
	return out, nil
}

// TraceEmitter adapts the stream-event surface onto the recorder: tool
// call start/result events become persisted traces for the session.
type TraceEmitter struct {
	recorder *TraceRecorder
	session  string
	turn     int
}

// NewTraceEmitter creates an emitter persisting one session's traces.
func NewTraceEmitter(recorder *TraceRecorder, sessionID string) *TraceEmitter {
	return &TraceEmitter{recorder: recorder, session: sessionID}
}

// Emit implements Emitter.
func (e *TraceEmitter) Emit(event AgentStreamEvent) {
	switch event.Type {
	case StreamToolCallStart:
		_ = e.recorder.Record(ToolTrace{
			SessionID: e.session,
			Turn:      e.turn,
			Type:      TraceToolCallStarted,
			ToolName:  event.ToolName,
			Args:      event.Args,
			Timestamp: event.Timestamp,
		})
	case StreamToolCallResult:
		_ = e.recorder.Record(ToolTrace{
			SessionID: e.session,
			Turn:      e.turn,
			Type:      TraceToolCallCompleted,
			ToolName:  event.ToolName,
			Output:    event.Result,
			Success:   event.Success,
			Timestamp: event.Timestamp,
		})
		e.turn++
	case StreamComplete:
		_ = e.recorder.Record(ToolTrace{
			SessionID: e.session,
			Turn:      e.turn,
			Type:      TraceTurnCompleted,
			Timestamp: event.Timestamp,
		})
	}
}

// Multi fans one event out to several emitters.
func Multi(emitters ...Emitter) Emitter {
	return multiEmitter(emitters)
}

type multiEmitter []Emitter

// Emit implements Emitter.
func (m multiEmitter) Emit(event AgentStreamEvent) {
	for _, e := range m {
		e.Emit(event)
	}
}
