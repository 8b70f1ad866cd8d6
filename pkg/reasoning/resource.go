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

package reasoning

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ResourceLimits bounds a single agent run. Zero disables a limit.
type ResourceLimits struct {
	// MaxToolCalls is the total tool-call budget per run.
	MaxToolCalls int
	// MaxWallClock is the wall-clock budget per run.
	MaxWallClock time.Duration
	// MaxDepth is the sub-agent nesting budget.
	MaxDepth int
}

// DefaultResourceLimits returns the standard guardrails.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxToolCalls: 200,
		MaxWallClock: 30 * time.Minute,
		MaxDepth:     20,
	}
}

// ResourceUsage is a snapshot of a tracker's counters.
type ResourceUsage struct {
	ToolCalls int           `json:"tool_calls"`
	WallClock time.Duration `json:"wall_clock"`
	Depth     int           `json:"depth"`
}

// ResourceTracker counts resource consumption against limits. It is
// checked before every LLM call and tool batch; violations surface as
// typed *ResourceError values that terminate the run.
type ResourceTracker struct {
	limits    ResourceLimits
	startTime time.Time
	toolCalls atomic.Int64
	depth     int
}

// NewResourceTracker creates a tracker at depth 0.
func NewResourceTracker(limits ResourceLimits) *ResourceTracker {
	return &ResourceTracker{limits: limits, startTime: time.Now()}
}

// NewResourceTrackerAtDepth creates a tracker for a sub-agent.
func NewResourceTrackerAtDepth(limits ResourceLimits, depth int) *ResourceTracker {
	return &ResourceTracker{limits: limits, startTime: time.Now(), depth: depth}
}

// Limits returns the configured limits.
func (t *ResourceTracker) Limits() ResourceLimits { return t.limits }

// Depth returns the tracker's nesting depth.
func (t *ResourceTracker) Depth() int { return t.depth }

// Check verifies all enabled limits, failing on the first violation.
func (t *ResourceTracker) Check() error {
	if err := t.CheckToolCalls(); err != nil {
		return err
	}
	if err := t.CheckWallClock(); err != nil {
		return err
	}
	return t.CheckDepth()
}

// CheckToolCalls verifies the tool-call budget.
func (t *ResourceTracker) CheckToolCalls() error {
	limit := t.limits.MaxToolCalls
	if limit <= 0 {
		return nil
	}
	actual := int(t.toolCalls.Load())
	if actual >= limit {
		return &ResourceError{Kind: ResourceToolCalls, Limit: limit, Actual: actual}
	}
	return nil
}

// CheckWallClock verifies the wall-clock budget (also used alone before
// LLM calls).
func (t *ResourceTracker) CheckWallClock() error {
	limit := t.limits.MaxWallClock
	if limit <= 0 {
		return nil
	}
	elapsed := time.Since(t.startTime)
	if elapsed > limit {
		return &ResourceError{
			Kind:         ResourceWallClock,
			LimitClock:   limit,
			ElapsedClock: elapsed,
		}
	}
	return nil
}

// CheckDepth verifies the nesting budget.
func (t *ResourceTracker) CheckDepth() error {
	limit := t.limits.MaxDepth
	if limit <= 0 {
		return nil
	}
	if t.depth >= limit {
		return &ResourceError{Kind: ResourceDepth, Limit: limit, Actual: t.depth}
	}
	return nil
}

// RecordToolCalls adds count executed tool calls.
func (t *ResourceTracker) RecordToolCalls(count int) {
	t.toolCalls.Add(int64(count))
}

// Usage snapshots the counters.
func (t *ResourceTracker) Usage() ResourceUsage {
	return ResourceUsage{
		ToolCalls: int(t.toolCalls.Load()),
		WallClock: time.Since(t.startTime),
		Depth:     t.depth,
	}
}

// ResourceKind names the violated limit.
type ResourceKind string

const (
	ResourceToolCalls ResourceKind = "tool_calls_exceeded"
	ResourceWallClock ResourceKind = "wall_clock_exceeded"
	ResourceDepth     ResourceKind = "depth_exceeded"
)

// ResourceError is a typed limit violation. It is terminal for the run.
type ResourceError struct {
	Kind         ResourceKind
	Limit        int
	Actual       int
	LimitClock   time.Duration
	ElapsedClock time.Duration
}

// Error implements error.
func (e *ResourceError) Error() string {
	switch e.Kind {
	case ResourceToolCalls:
		return fmt.Sprintf("Exceeded tool call limit: %d calls (limit: %d)", e.Actual, e.Limit)
	case ResourceWallClock:
		return fmt.Sprintf("Exceeded wall-clock limit: %.1fs elapsed (limit: %.1fs)",
			e.ElapsedClock.Seconds(), e.LimitClock.Seconds())
	case ResourceDepth:
		return fmt.Sprintf("Exceeded sub-agent depth limit: %d (limit: %d)", e.Actual, e.Limit)
	default:
		return "resource limit exceeded"
	}
}
