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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/tools"
)

// HTTPConfig configures an http_request node. URL, headers and body are
// interpolated against the execution context before the request.
type HTTPConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout int64             `json:"timeout_secs,omitempty"`
}

// HTTPExecutor performs the request and returns status, headers and
// body. 5xx responses fail as retryable server errors; invalid URLs
// fail as non-retryable config errors.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates the executor.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{client: &http.Client{Timeout: 60 * time.Second}}
}

// Kind implements Executor.
func (*HTTPExecutor) Kind() models.NodeKind { return models.NodeHTTPRequest }

// Execute implements Executor.
func (e *HTTPExecutor) Execute(ctx context.Context, node models.Node, ec *engine.ExecutionContext, _ json.RawMessage) (json.RawMessage, error) {
	var cfg HTTPConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	url := ec.Interpolate(cfg.URL)
	if err := tools.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(ec.Interpolate(cfg.Body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, ec.Interpolate(v))
	}

	client := e.client
	if cfg.Timeout > 0 {
		client = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	var parsedBody any = string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			parsedBody = parsed
		}
	}
	return json.Marshal(map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    parsedBody,
	})
}
