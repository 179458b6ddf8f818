// Copyright 2025 Tom Barlow
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
	"strings"
)

// WordCountTool counts words in a piece of text. Writing agents use it
// to check chapter drafts against length targets.
type WordCountTool struct{}

// NewWordCountTool creates a word count tool.
func NewWordCountTool() *WordCountTool { return &WordCountTool{} }

// Name returns the tool identifier.
func (t *WordCountTool) Name() string { return "word_count" }

// Description returns what the tool does, phrased for the model.
func (t *WordCountTool) Description() string {
	return "Count the words in a piece of text. Use this to verify a draft meets its length target."
}

// InputSchema returns the JSON Schema for the tool's arguments.
func (t *WordCountTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Text to count",
			},
		},
		"required": []string{"text"},
	}
}

// Run counts whitespace-separated words in the "text" argument.
func (t *WordCountTool) Run(ctx context.Context, args map[string]any) (string, error) {
	text, ok := args["text"].(string)
	if !ok {
		return "", fmt.Errorf("text argument is required")
	}

	count := len(strings.Fields(text))
	return fmt.Sprintf("%d words", count), nil
}
