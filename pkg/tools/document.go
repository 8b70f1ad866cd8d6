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
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// DocumentParams is the read_document tool's input.
type DocumentParams struct {
	Path     string `json:"path" jsonschema:"description=Path to a local PDF DOCX or XLSX file"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"description=Truncate extracted text to this many characters (default 20000)"`
}

// DocumentTool extracts plain text from PDF, DOCX and XLSX files so
// agents can read local documents.
type DocumentTool struct {
	ParallelTool
}

// NewDocumentTool creates the tool.
func NewDocumentTool() *DocumentTool { return &DocumentTool{} }

// Name implements Tool.
func (t *DocumentTool) Name() string { return "read_document" }

// Description implements Tool.
func (t *DocumentTool) Description() string {
	return "Extract the text content of a local PDF, DOCX or XLSX document."
}

// ParametersSchema implements Tool.
func (t *DocumentTool) ParametersSchema() map[string]any {
	return SchemaFor(&DocumentParams{})
}

// Execute implements Tool.
func (t *DocumentTool) Execute(_ context.Context, args map[string]any) (*ToolOutput, error) {
	var params DocumentParams
	if err := DecodeArgs(args, &params); err != nil {
		return Errorf(CategoryConfig, "%v", err), nil
	}
	maxChars := params.MaxChars
	if maxChars <= 0 {
		maxChars = 20000
	}

	var text string
	var err error
	switch strings.ToLower(filepath.Ext(params.Path)) {
	case ".pdf":
		text, err = extractPDF(params.Path)
	case ".docx":
		text, err = extractDocx(params.Path)
	case ".xlsx":
		text, err = extractXlsx(params.Path)
	default:
		return Errorf(CategoryConfig,
			"unsupported document type %q (supported: pdf, docx, xlsx)",
			filepath.Ext(params.Path)), nil
	}
	if err != nil {
		return Errorf(CategoryConfig, "failed to read document: %v", err), nil
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}
	return Success(map[string]any{"text": text, "truncated": truncated}), nil
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	content, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

func extractDocx(path string) (string, error) {
	reader, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = reader.Close() }()

	content := reader.Editable().GetContent()
	// Paragraph ends become newlines before the markup is stripped.
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	return strings.TrimSpace(docxTagPattern.ReplaceAllString(content, "")), nil
}

func extractXlsx(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var out strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		fmt.Fprintf(&out, "# %s\n", sheet)
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

var _ Tool = (*DocumentTool)(nil)
