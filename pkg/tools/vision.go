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
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/restflow-ai/restflow/pkg/httpclient"
)

// VisionParams is the vision tool's input.
type VisionParams struct {
	ImagePath string `json:"image_path" jsonschema:"description=Path to a local image file (png/jpg/jpeg/webp/gif)"`
	Prompt    string `json:"prompt" jsonschema:"description=What to ask about the image"`
	Model     string `json:"model,omitempty" jsonschema:"description=Vision model override"`
}

// visionMIMETypes maps the accepted extensions to their MIME types.
var visionMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// VisionTool base64-encodes a local image and asks an OpenAI-compatible
// vision endpoint about it.
type VisionTool struct {
	ParallelTool
	apiKey string
	host   string
	model  string
	client *httpclient.Client
}

// NewVisionTool creates the tool. host may be empty for the OpenAI
// default.
func NewVisionTool(apiKey, host, model string) *VisionTool {
	if host == "" {
		host = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &VisionTool{
		apiKey: apiKey,
		host:   strings.TrimSuffix(host, "/"),
		model:  model,
		client: httpclient.New(),
	}
}

// Name implements Tool.
func (t *VisionTool) Name() string { return "vision" }

// Description implements Tool.
func (t *VisionTool) Description() string {
	return "Analyze a local image file with a vision model and answer a question about it."
}

// ParametersSchema implements Tool.
func (t *VisionTool) ParametersSchema() map[string]any {
	return SchemaFor(&VisionParams{})
}

// Execute implements Tool.
func (t *VisionTool) Execute(ctx context.Context, args map[string]any) (*ToolOutput, error) {
	var params VisionParams
	if err := DecodeArgs(args, &params); err != nil {
		return Errorf(CategoryConfig, "%v", err), nil
	}
	if t.apiKey == "" {
		return Errorf(CategoryAuth,
			"missing vision API key. Set OPENAI_API_KEY or store it via 'restflow secret set OPENAI_API_KEY'"), nil
	}

	mime, ok := visionMIMETypes[strings.ToLower(filepath.Ext(params.ImagePath))]
	if !ok {
		return Errorf(CategoryConfig,
			"unsupported image type %q (supported: png, jpg, jpeg, webp, gif)",
			filepath.Ext(params.ImagePath)), nil
	}
	data, err := os.ReadFile(params.ImagePath)
	if err != nil {
		return Errorf(CategoryConfig, "failed to read image: %v", err), nil
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	model := params.Model
	if model == "" {
		model = t.model
	}
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": params.Prompt},
				{"type": "image_url", "image_url": map[string]string{
					"url": fmt.Sprintf("data:%s;base64,%s", mime, encoded),
				}},
			},
		}},
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	err = t.client.PostJSON(ctx, t.host+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + t.apiKey}, payload, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			switch statusErr.Code {
			case 401:
				return Errorf(CategoryAuth,
					"vision API rejected the key (401). Check OPENAI_API_KEY and re-run 'restflow secret set'"), nil
			case 429:
				out := Errorf(CategoryNetwork,
					"vision API rate limited (429). Wait a moment and retry, or lower request volume")
				out.RetryAfterMS = 5000
				return out, nil
			}
		}
		return Errorf(CategoryNetwork, "vision request failed: %v", err), nil
	}
	if len(resp.Choices) == 0 {
		return Errorf(CategoryServer, "vision API returned no choices"), nil
	}
	return Success(map[string]any{"answer": resp.Choices[0].Message.Content}), nil
}

var _ Tool = (*VisionTool)(nil)
