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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	restflow "github.com/restflow-ai/restflow"
)

// MCPConfig describes one MCP server whose tools join the registry.
type MCPConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// AllowedTools filters the server's tools; empty allows all.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// MCPSource connects to an MCP server over stdio and exposes its tools.
type MCPSource struct {
	cfg    MCPConfig
	mu     sync.Mutex
	client *client.Client
}

// NewMCPSource creates a source; the connection is lazy.
func NewMCPSource(cfg MCPConfig) *MCPSource {
	return &MCPSource{cfg: cfg}
}

// Connect starts the server process, initializes the session and
// registers every (allowed) remote tool into the registry.
func (s *MCPSource) Connect(ctx context.Context, registry *Registry) error {
	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client for %s: %w", s.cfg.Name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client for %s: %w", s.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "restflow", Version: restflow.Version}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP server %s: %w", s.cfg.Name, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to list tools from %s: %w", s.cfg.Name, err)
	}

	var allowSet map[string]bool
	if len(s.cfg.AllowedTools) > 0 {
		allowSet = make(map[string]bool, len(s.cfg.AllowedTools))
		for _, name := range s.cfg.AllowedTools {
			allowSet[name] = true
		}
	}

	s.mu.Lock()
	s.client = mcpClient
	s.mu.Unlock()

	registered := 0
	for _, remote := range listResp.Tools {
		if allowSet != nil && !allowSet[remote.Name] {
			continue
		}
		schemaData, err := json.Marshal(remote.InputSchema)
		if err != nil {
			continue
		}
		var schema map[string]any
		if err := json.Unmarshal(schemaData, &schema); err != nil {
			continue
		}
		tool := &mcpTool{
			source: s,
			name:   remote.Name,
			desc:   remote.Description,
			schema: schema,
		}
		if err := registry.RegisterTool(tool); err != nil {
			slog.Warn("Skipping conflicting MCP tool", "server", s.cfg.Name,
				"tool", remote.Name, "error", err)
			continue
		}
		registered++
	}
	slog.Info("Connected to MCP server", "name", s.cfg.Name, "tools", registered)
	return nil
}

// Close shuts down the server connection.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// mcpTool adapts one remote MCP tool to the Tool interface.
type mcpTool struct {
	ParallelTool
	source *MCPSource
	name   string
	desc   string
	schema map[string]any
}

func (t *mcpTool) Name() string { return t.name }

func (t *mcpTool) Description() string { return t.desc }

func (t *mcpTool) ParametersSchema() map[string]any { return t.schema }

// Execute forwards the call to the remote server.
func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (*ToolOutput, error) {
	t.source.mu.Lock()
	mcpClient := t.source.client
	t.source.mu.Unlock()
	if mcpClient == nil {
		return Errorf(CategoryConfig, "MCP server %s is not connected", t.source.cfg.Name), nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return Errorf(CategoryNetwork, "MCP call failed: %v", err), nil
	}

	var text string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	if resp.IsError {
		return Errorf(CategoryOther, "%s", text), nil
	}
	return Success(text), nil
}

var _ Tool = (*mcpTool)(nil)
