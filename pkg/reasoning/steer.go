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
	"sync/atomic"
	"time"
)

// SteerMessage is a mid-run instruction injected into a running agent's
// message stream. Messages are drained only at suspension points, never
// mid-LLM-call, preserving assistant/tool_result alternation.
type SteerMessage struct {
	Instruction string `json:"instruction"`
	Source      string `json:"source"`
	Timestamp   int64  `json:"timestamp"`
}

// NewSteerMessage stamps an instruction.
func NewSteerMessage(instruction, source string) SteerMessage {
	return SteerMessage{
		Instruction: instruction,
		Source:      source,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// SteerBufferSize bounds the per-task steer channel.
const SteerBufferSize = 32

// NewSteerChannel creates a bounded steer channel.
func NewSteerChannel() chan SteerMessage {
	return make(chan SteerMessage, SteerBufferSize)
}

// CancelToken is the cooperative cancellation flag observed at every
// suspension point and around every LLM and tool call. In-flight calls
// run to completion (or their own timeout); their output is discarded
// once the flag is set.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel sets the flag.
func (t *CancelToken) Cancel() { t.flag.Store(true) }

// Cancelled reports whether the flag is set.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}
