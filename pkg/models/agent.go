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

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// AgentStatus is the lifecycle state of a scheduled background agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentPaused    AgentStatus = "paused"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// ExecutionMode selects where a background agent executes.
type ExecutionMode string

const (
	ExecutionAPI ExecutionMode = "api"
	ExecutionCLI ExecutionMode = "cli"
)

// TaskPriority orders background-agent firings.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0
	PriorityNormal TaskPriority = 1
	PriorityHigh   TaskPriority = 2
)

// ScheduleKind discriminates TaskSchedule variants.
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleWebhook  ScheduleKind = "webhook"
	ScheduleManual   ScheduleKind = "manual"
)

// TaskSchedule is the tagged schedule union. Exactly the fields of the
// active kind are meaningful.
type TaskSchedule struct {
	Kind ScheduleKind `json:"kind"`
	// Once
	RunAt int64 `json:"run_at,omitempty"`
	// Interval
	IntervalMS int64  `json:"interval_ms,omitempty"`
	StartAt    *int64 `json:"start_at,omitempty"`
	// Cron
	Expression string `json:"expression,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	// Webhook
	WebhookID string `json:"webhook_id,omitempty"`
}

// Validate rejects malformed schedules before they are persisted.
func (s TaskSchedule) Validate() error {
	switch s.Kind {
	case ScheduleOnce:
		if s.RunAt <= 0 {
			return fmt.Errorf("once schedule requires run_at")
		}
	case ScheduleInterval:
		if s.IntervalMS <= 0 {
			return fmt.Errorf("interval schedule requires a positive interval_ms")
		}
	case ScheduleCron:
		if _, err := cronParser.Parse(s.Expression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expression, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
			}
		}
	case ScheduleWebhook, ScheduleManual:
		// No fields required.
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// cronParser accepts standard 5-field expressions plus @descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRunAfter computes the next firing instant (Unix ms) strictly after
// now, deterministically from (schedule, lastRun, now). A nil result means
// the schedule has no further firings.
//
//	Once:     run_at while it has not fired yet, nil afterwards.
//	Interval: start_at when still ahead and never fired; otherwise
//	          now + interval.
//	Cron:     next matching instant after now in the configured timezone.
//	Webhook/Manual: nil — firings are externally driven.
func (s TaskSchedule) NextRunAfter(lastRun *int64, now int64) *int64 {
	switch s.Kind {
	case ScheduleOnce:
		if lastRun != nil {
			return nil
		}
		runAt := s.RunAt
		return &runAt
	case ScheduleInterval:
		if lastRun == nil && s.StartAt != nil && *s.StartAt > now {
			next := *s.StartAt
			return &next
		}
		next := now + s.IntervalMS
		return &next
	case ScheduleCron:
		sched, err := cronParser.Parse(s.Expression)
		if err != nil {
			return nil
		}
		loc := time.UTC
		if s.Timezone != "" {
			if l, err := time.LoadLocation(s.Timezone); err == nil {
				loc = l
			}
		}
		next := sched.Next(time.UnixMilli(now).In(loc)).UnixMilli()
		return &next
	default:
		return nil
	}
}

// ResourceLimitsSpec is the persisted form of per-run resource limits.
// Zero values mean "use the default"; -1 disables a limit.
type ResourceLimitsSpec struct {
	MaxToolCalls  int   `json:"max_tool_calls,omitempty"`
	MaxWallClockS int64 `json:"max_wall_clock_secs,omitempty"`
	MaxDepth      int   `json:"max_depth,omitempty"`
}

// NotificationConfig describes where completion notices go.
type NotificationConfig struct {
	Channel string `json:"channel"`
	Target  string `json:"target,omitempty"`
}

// BackgroundAgent is a persistently scheduled agent run definition.
type BackgroundAgent struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	AgentID        string              `json:"agent_id"`
	Description    string              `json:"description,omitempty"`
	Input          string              `json:"input,omitempty"`
	InputTemplate  string              `json:"input_template,omitempty"`
	Schedule       TaskSchedule        `json:"schedule"`
	Status         AgentStatus         `json:"status"`
	Notification   *NotificationConfig `json:"notification,omitempty"`
	ExecutionMode  ExecutionMode       `json:"execution_mode"`
	TimeoutSecs    int64               `json:"timeout_secs,omitempty"`
	Memory         bool                `json:"memory,omitempty"`
	ResourceLimits *ResourceLimitsSpec `json:"resource_limits,omitempty"`
	CreatedAt      int64               `json:"created_at"`
	UpdatedAt      int64               `json:"updated_at"`
	LastRunAt      *int64              `json:"last_run_at,omitempty"`
	NextRunAt      *int64              `json:"next_run_at,omitempty"`
	SuccessCount   uint64              `json:"success_count"`
	FailureCount   uint64              `json:"failure_count"`
}

// NewBackgroundAgent creates an active background agent with its first
// next_run_at computed from the schedule.
func NewBackgroundAgent(name, agentID string, schedule TaskSchedule) BackgroundAgent {
	now := time.Now().UnixMilli()
	a := BackgroundAgent{
		ID:            uuid.NewString(),
		Name:          name,
		AgentID:       agentID,
		Schedule:      schedule,
		Status:        AgentActive,
		ExecutionMode: ExecutionAPI,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	a.NextRunAt = schedule.NextRunAfter(nil, now)
	return a
}

// EventType names a background-agent task event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventOutput    EventType = "output"
	EventProgress  EventType = "progress"
	EventStep      EventType = "step"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
	EventHeartbeat EventType = "heartbeat"
)

// TaskEvent is one entry in the append-only per-task event log. Events
// are totally ordered per task by (timestamp, id).
type TaskEvent struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Type      EventType       `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewTaskEvent creates an event stamped now.
func NewTaskEvent(taskID string, typ EventType, message string, payload json.RawMessage) TaskEvent {
	return TaskEvent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		Message:   message,
		Payload:   payload,
	}
}

// MessageSource identifies who produced a task message.
type MessageSource string

const (
	SourceUser  MessageSource = "user"
	SourceAgent MessageSource = "agent"
)

// MessageStatus tracks delivery of a task message.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageConsumed MessageStatus = "consumed"
)

// TaskMessage is a user<->agent message persisted per task. Pending user
// messages are consumed at the ReAct loop's suspension points.
type TaskMessage struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	Source    MessageSource `json:"source"`
	Status    MessageStatus `json:"status"`
	Content   string        `json:"content"`
	CreatedAt int64         `json:"created_at"`
}

// NewTaskMessage creates a pending message.
func NewTaskMessage(taskID string, source MessageSource, content string) TaskMessage {
	return TaskMessage{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Source:    source,
		Status:    MessagePending,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// AgentCheckpoint is a serialized snapshot of a ReAct run. The largest
// version for a task is the valid resume point; checkpoints past
// expired_at are garbage-collected.
type AgentCheckpoint struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id,omitempty"`
	ExecutionID string          `json:"execution_id"`
	Version     uint64          `json:"version"`
	ExpiredAt   int64           `json:"expired_at"`
	State       json.RawMessage `json:"serialized_state"`
}

// AgentDefinition describes a named agent: its prompt, tool allowlist and
// runtime defaults.
type AgentDefinition struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SystemPrompt  string   `json:"system_prompt"`
	AllowedTools  []string `json:"allowed_tools"`
	DefaultModel  string   `json:"default_model,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
	Callable      bool     `json:"callable"`
	Tags          []string `json:"tags,omitempty"`
}
