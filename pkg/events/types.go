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

// Package events defines the typed event envelopes emitted by
// long-running operations: per-run agent stream events, background-agent
// task events and persisted tool traces. Secret redaction is applied
// before any event leaves process memory.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// AgentStreamType discriminates per-run agent stream events.
type AgentStreamType string

const (
	StreamTextDelta      AgentStreamType = "text_delta"
	StreamThinkingDelta  AgentStreamType = "thinking_delta"
	StreamToolCallStart  AgentStreamType = "tool_call_start"
	StreamToolCallResult AgentStreamType = "tool_call_result"
	StreamComplete       AgentStreamType = "complete"
)

// AgentStreamEvent is one event of a ReAct run's stream. Streams are
// lazy finite sequences terminated by a complete (or error) envelope;
// consumers must tolerate a stream ending with partial content after a
// cancellation.
type AgentStreamEvent struct {
	Type      AgentStreamType `json:"type"`
	Text      string          `json:"text,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Emitter receives agent stream events. Implementations must be safe
// for concurrent use; emitting must never block a run for long.
type Emitter interface {
	Emit(event AgentStreamEvent)
}

// NewStreamEvent stamps an event.
func NewStreamEvent(typ AgentStreamType) AgentStreamEvent {
	return AgentStreamEvent{Type: typ, Timestamp: time.Now().UnixMilli()}
}

// TextDelta builds a redacted text-delta event.
func TextDelta(text string) AgentStreamEvent {
	e := NewStreamEvent(StreamTextDelta)
	e.Text = Redact(text)
	return e
}

// ThinkingDelta builds a redacted thinking-delta event.
func ThinkingDelta(text string) AgentStreamEvent {
	e := NewStreamEvent(StreamThinkingDelta)
	e.Text = Redact(text)
	return e
}

// ToolCallStart builds a tool-call-start event with sanitized args.
func ToolCallStart(callID, toolName string, args any) AgentStreamEvent {
	e := NewStreamEvent(StreamToolCallStart)
	e.CallID = callID
	e.ToolName = toolName
	if data, err := json.Marshal(args); err == nil {
		e.Args = json.RawMessage(Redact(string(data)))
	}
	return e
}

// ToolCallResult builds a tool-call-result event.
func ToolCallResult(callID, toolName, result string, success bool) AgentStreamEvent {
	e := NewStreamEvent(StreamToolCallResult)
	e.CallID = callID
	e.ToolName = toolName
	e.Result = Redact(result)
	e.Success = success
	return e
}

// Complete builds the terminal event of a stream.
func Complete() AgentStreamEvent {
	return NewStreamEvent(StreamComplete)
}

// NopEmitter discards events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(AgentStreamEvent) {}

// ChannelEmitter forwards events to a buffered channel, dropping when
// the consumer falls behind rather than blocking the run.
type ChannelEmitter struct {
	ch chan AgentStreamEvent
}

// NewChannelEmitter creates an emitter with the given buffer.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelEmitter{ch: make(chan AgentStreamEvent, buffer)}
}

// Events returns the consumer side.
func (e *ChannelEmitter) Events() <-chan AgentStreamEvent { return e.ch }

// Close closes the consumer channel.
func (e *ChannelEmitter) Close() { close(e.ch) }

// Emit implements Emitter.
func (e *ChannelEmitter) Emit(event AgentStreamEvent) {
	select {
	case e.ch <- event:
	default:
	}
}

// CollectingEmitter records every event; used by tests.
type CollectingEmitter struct {
	mu         sync.Mutex
	EventsSeen []AgentStreamEvent
}

// Emit implements Emitter.
func (e *CollectingEmitter) Emit(event AgentStreamEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EventsSeen = append(e.EventsSeen, event)
}

// Snapshot returns a copy of the recorded events.
func (e *CollectingEmitter) Snapshot() []AgentStreamEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AgentStreamEvent, len(e.EventsSeen))
	copy(out, e.EventsSeen)
	return out
}
