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
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ExecFunc is the continuation a wrapper delegates to.
type ExecFunc func(ctx context.Context, args map[string]any) (*ToolOutput, error)

// Wrapper decorates tool execution with a cross-cutting policy. The
// registry composes wrappers in registration order; execution recurses
// through the chain and finally into the tool.
type Wrapper interface {
	WrapExecute(ctx context.Context, toolName string, args map[string]any, next ExecFunc) (*ToolOutput, error)
}

// TimeoutWrapper cancels the wrapped execution after a fixed duration.
// Configure it >= any tool-internal timeout plus a small buffer so the
// inner timeout fires first with its more specific message.
type TimeoutWrapper struct {
	timeout time.Duration
}

// NewTimeoutWrapper creates a timeout wrapper.
func NewTimeoutWrapper(timeout time.Duration) *TimeoutWrapper {
	return &TimeoutWrapper{timeout: timeout}
}

// WrapExecute implements Wrapper.
func (w *TimeoutWrapper) WrapExecute(ctx context.Context, toolName string, args map[string]any, next ExecFunc) (*ToolOutput, error) {
	if w.timeout <= 0 {
		return next(ctx, args)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type result struct {
		output *ToolOutput
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := next(ctx, args)
		done <- result{output, err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("Tool '%s' timed out after %dms", toolName, w.timeout.Milliseconds())
	}
}

// RateLimitWrapper bounds concurrent executions of each wrapped tool
// with a counting semaphore.
type RateLimitWrapper struct {
	sem *semaphore.Weighted
}

// NewRateLimitWrapper creates a wrapper allowing maxConcurrent
// simultaneous executions.
func NewRateLimitWrapper(maxConcurrent int64) *RateLimitWrapper {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RateLimitWrapper{sem: semaphore.NewWeighted(maxConcurrent)}
}

// WrapExecute implements Wrapper.
func (w *RateLimitWrapper) WrapExecute(ctx context.Context, toolName string, args map[string]any, next ExecFunc) (*ToolOutput, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("Tool '%s' cancelled while waiting for a slot: %w", toolName, err)
	}
	defer w.sem.Release(1)
	return next(ctx, args)
}
