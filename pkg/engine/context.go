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

package engine

import (
	"encoding/json"
	"strings"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/secrets"
)

// ExecutionContext is the per-execution state seen by node executors:
// the serializable snapshot plus the secret resolver capability.
type ExecutionContext struct {
	Snapshot models.ContextSnapshot
	Secrets  secrets.Resolver
}

// NewExecutionContext wraps a snapshot with a resolver.
func NewExecutionContext(snapshot models.ContextSnapshot, resolver secrets.Resolver) *ExecutionContext {
	return &ExecutionContext{Snapshot: snapshot, Secrets: resolver}
}

// SetNodeOutput records a node's output in the snapshot.
func (ec *ExecutionContext) SetNodeOutput(nodeID string, output json.RawMessage) {
	ec.Snapshot.NodeOutputs[nodeID] = output
}

// SetVariable records an execution-scoped variable.
func (ec *ExecutionContext) SetVariable(name string, value json.RawMessage) {
	ec.Snapshot.Variables[name] = value
}

// Interpolate replaces every {{expr}} segment in template. Expressions
// are dotted paths rooted at a prior node's output
// ({{node_id.output.path}}), an execution variable ({{name.path}}) or a
// secret ({{secrets.NAME}}). Interpolation is total — an unresolvable
// path yields the empty string — and has no side effects.
func (ec *ExecutionContext) Interpolate(template string) string {
	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:start])
		expr := strings.TrimSpace(rest[start+2 : start+end])
		out.WriteString(ec.resolve(expr))
		rest = rest[start+end+2:]
	}
}

// resolve evaluates one interpolation expression.
func (ec *ExecutionContext) resolve(expr string) string {
	if expr == "" {
		return ""
	}
	parts := strings.Split(expr, ".")

	if parts[0] == "secrets" {
		if len(parts) != 2 || ec.Secrets == nil {
			return ""
		}
		value, err := ec.Secrets.Resolve(parts[1])
		if err != nil {
			return ""
		}
		return value
	}

	// {{node_id.output.path}} — the "output" segment addresses the
	// node's recorded output itself.
	if output, ok := ec.Snapshot.NodeOutputs[parts[0]]; ok {
		path := parts[1:]
		if len(path) > 0 && path[0] == "output" {
			path = path[1:]
		}
		return renderJSONPath(output, path)
	}

	if value, ok := ec.Snapshot.Variables[parts[0]]; ok {
		return renderJSONPath(value, parts[1:])
	}

	return ""
}

// renderJSONPath walks a dotted path through raw JSON and renders the
// result: strings render bare, everything else as compact JSON.
func renderJSONPath(raw json.RawMessage, path []string) string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	for _, seg := range path {
		obj, ok := value.(map[string]any)
		if !ok {
			return ""
		}
		value, ok = obj[seg]
		if !ok {
			return ""
		}
	}
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		rendered, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(rendered)
	}
}
