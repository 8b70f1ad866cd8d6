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
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPParams is the http_request tool's input.
type HTTPParams struct {
	URL     string            `json:"url" jsonschema:"description=The URL to request"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method (default GET)"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Request headers"`
	Body    string            `json:"body,omitempty" jsonschema:"description=Request body"`
}

// HTTPTool performs outbound HTTP requests with SSRF validation.
// 5xx responses are retryable; 4xx are not.
type HTTPTool struct {
	ParallelTool
	client *http.Client
}

// NewHTTPTool creates the tool.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{Timeout: 60 * time.Second}}
}

// Name implements Tool.
func (t *HTTPTool) Name() string { return "http_request" }

// Description implements Tool.
func (t *HTTPTool) Description() string {
	return "Perform an HTTP request and return status, headers and body. Only public http/https URLs are allowed."
}

// ParametersSchema implements Tool.
func (t *HTTPTool) ParametersSchema() map[string]any {
	return SchemaFor(&HTTPParams{})
}

// Execute implements Tool.
func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (*ToolOutput, error) {
	var params HTTPParams
	if err := DecodeArgs(args, &params); err != nil {
		return Errorf(CategoryConfig, "%v", err), nil
	}
	if err := ValidateURL(params.URL); err != nil {
		return Errorf(CategoryConfig, "%v", err), nil
	}
	method := strings.ToUpper(params.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if params.Body != "" {
		body = strings.NewReader(params.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, params.URL, body)
	if err != nil {
		return Errorf(CategoryConfig, "failed to build request: %v", err), nil
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf(CategoryNetwork, "request failed: %v", err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Errorf(CategoryNetwork, "failed to read response: %v", err), nil
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	result := map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decodeBody(resp.Header.Get("Content-Type"), data),
	}

	if resp.StatusCode >= 500 {
		out := Errorf(CategoryServer, "server returned %s", resp.Status)
		out.Result = result
		return out, nil
	}
	if resp.StatusCode >= 400 {
		out := Errorf(CategoryOther, "request rejected with %s", resp.Status)
		out.Retryable = false
		out.Result = result
		return out, nil
	}
	return Success(result), nil
}

// decodeBody returns parsed JSON for JSON responses, a string otherwise.
func decodeBody(contentType string, data []byte) any {
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			return parsed
		}
	}
	return string(data)
}

var _ Tool = (*HTTPTool)(nil)
