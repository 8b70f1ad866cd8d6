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
	"github.com/restflow-ai/restflow/pkg/llms"
)

// TurnInfo describes the upcoming turn for routing decisions.
type TurnInfo struct {
	// Iteration is the zero-based turn index.
	Iteration int
	// LastHadToolCalls reports whether the previous assistant turn
	// requested tools.
	LastHadToolCalls bool
}

// ModelSwitcher selects the provider for the next turn. Switches take
// effect only at turn boundaries, never mid-turn.
type ModelSwitcher interface {
	ProviderFor(turn TurnInfo, current llms.Provider) llms.Provider
}

// TierRouter is a simple two-tier switcher: the strong provider plans
// (first turn and turns after a final-answer attempt), the fast provider
// handles tool-execution turns.
type TierRouter struct {
	Strong llms.Provider
	Fast   llms.Provider
}

// ProviderFor implements ModelSwitcher.
func (r *TierRouter) ProviderFor(turn TurnInfo, current llms.Provider) llms.Provider {
	if r.Strong == nil || r.Fast == nil {
		return current
	}
	if turn.Iteration == 0 || !turn.LastHadToolCalls {
		return r.Strong
	}
	return r.Fast
}
