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

package nodes

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
)

// PrintConfig configures a print node.
type PrintConfig struct {
	Message string `json:"message"`
}

// PrintExecutor echoes interpolated text to the observability stream.
// It always succeeds.
type PrintExecutor struct{}

// Kind implements Executor.
func (PrintExecutor) Kind() models.NodeKind { return models.NodePrint }

// Execute implements Executor.
func (PrintExecutor) Execute(_ context.Context, node models.Node, ec *engine.ExecutionContext, _ json.RawMessage) (json.RawMessage, error) {
	var cfg PrintConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	printed := ec.Interpolate(cfg.Message)
	slog.Info("Print node", "node_id", node.ID, "message", printed)
	return json.Marshal(map[string]string{"printed": printed})
}
