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
	"encoding/json"
	"sort"
	"strings"
)

// StuckAction selects what happens when the detector fires.
type StuckAction string

const (
	// StuckNudge injects a synthetic user message telling the model it
	// repeats itself.
	StuckNudge StuckAction = "nudge"
	// StuckTerminate ends the run with a stuck error.
	StuckTerminate StuckAction = "terminate"
)

// StuckConfig tunes repetition detection.
type StuckConfig struct {
	// WindowSize is how many recent tool calls are considered.
	WindowSize int
	// Threshold is how many identical (tool, args) repeats fire the
	// detector.
	Threshold int
	// Action is what to do when it fires.
	Action StuckAction
}

// DefaultStuckConfig returns the standard detector settings.
func DefaultStuckConfig() *StuckConfig {
	return &StuckConfig{WindowSize: 10, Threshold: 3, Action: StuckNudge}
}

// StuckDetector keeps a sliding window of normalized tool calls and
// reports when the same call repeats Threshold times.
type StuckDetector struct {
	config StuckConfig
	window []string
	nudged bool
}

// NewStuckDetector creates a detector.
func NewStuckDetector(config StuckConfig) *StuckDetector {
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.Threshold <= 0 {
		config.Threshold = 3
	}
	return &StuckDetector{config: config}
}

// Record adds one executed tool call to the window.
func (d *StuckDetector) Record(toolName string, args map[string]any) {
	key := toolName + "(" + normalizeArgs(args) + ")"
	d.window = append(d.window, key)
	if len(d.window) > d.config.WindowSize {
		d.window = d.window[len(d.window)-d.config.WindowSize:]
	}
}

// IsStuck reports whether any call repeats Threshold times within the
// window.
func (d *StuckDetector) IsStuck() bool {
	counts := make(map[string]int, len(d.window))
	for _, key := range d.window {
		counts[key]++
		if counts[key] >= d.config.Threshold {
			return true
		}
	}
	return false
}

// Action returns the configured reaction. A nudge fires at most once
// per run; after that the detector escalates to terminate.
func (d *StuckDetector) Action() StuckAction {
	if d.config.Action == StuckNudge && !d.nudged {
		d.nudged = true
		return StuckNudge
	}
	return StuckTerminate
}

// NudgeMessage is the synthetic user message injected on a nudge.
const NudgeMessage = "You seem to be repeating the same tool call with the same arguments. " +
	"Step back, reconsider the approach, and either try a different tool or produce your final answer."

// normalizeArgs renders args with sorted keys so semantically equal
// calls compare equal.
func normalizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out strings.Builder
	for i, k := range keys {
		if i > 0 {
			out.WriteString(",")
		}
		value, err := json.Marshal(args[k])
		if err != nil {
			continue
		}
		out.WriteString(k)
		out.WriteString("=")
		out.Write(value)
	}
	return out.String()
}
