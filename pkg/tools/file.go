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
	"os"
	"path/filepath"
	"strings"
)

// defaultMaxFileSize limits reads to 10 MB so a stray path cannot blow
// up the model context.
const defaultMaxFileSize = 10 * 1024 * 1024

// FileReadTool reads a text file and returns its contents.
type FileReadTool struct {
	// root restricts reads to paths under this directory. Empty allows
	// any path.
	root string

	maxFileSize int64
}

// NewFileReadTool creates a read tool rooted at the given directory.
func NewFileReadTool(root string) *FileReadTool {
	return &FileReadTool{root: root, maxFileSize: defaultMaxFileSize}
}

// Name returns the tool identifier.
func (t *FileReadTool) Name() string { return "read_file" }

// Description returns what the tool does, phrased for the model.
func (t *FileReadTool) Description() string {
	return "Read a text file and return its contents. Use this to consult reference material or previously written chapters."
}

// InputSchema returns the JSON Schema for the tool's arguments.
func (t *FileReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file to read",
			},
		},
		"required": []string{"path"},
	}
}

// Run reads the file named by the "path" argument.
func (t *FileReadTool) Run(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.resolvePath(args)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory: %s", path)
	}
	if info.Size() > t.maxFileSize {
		return "", fmt.Errorf("file exceeds size limit (%d bytes): %s", t.maxFileSize, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return string(data), nil
}

func (t *FileReadTool) resolvePath(args map[string]any) (string, error) {
	raw, ok := args["path"].(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("path argument is required")
	}
	return resolveUnderRoot(t.root, raw)
}

// FileWriteTool writes content to a file, creating parent directories
// as needed.
type FileWriteTool struct {
	// root restricts writes to paths under this directory. Empty allows
	// any path.
	root string
}

// NewFileWriteTool creates a write tool rooted at the given directory.
func NewFileWriteTool(root string) *FileWriteTool {
	return &FileWriteTool{root: root}
}

// Name returns the tool identifier.
func (t *FileWriteTool) Name() string { return "write_file" }

// Description returns what the tool does, phrased for the model.
func (t *FileWriteTool) Description() string {
	return "Write content to a file, replacing any existing contents. Use this to save drafts or finished chapters."
}

// InputSchema returns the JSON Schema for the tool's arguments.
func (t *FileWriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full contents to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

// Run writes the "content" argument to the "path" argument.
func (t *FileWriteTool) Run(ctx context.Context, args map[string]any) (string, error) {
	raw, ok := args["path"].(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("path argument is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content argument is required")
	}

	path, err := resolveUnderRoot(t.root, raw)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// resolveUnderRoot makes path absolute and, when root is set, verifies it
// does not escape root.
func resolveUnderRoot(root, path string) (string, error) {
	if root == "" {
		return filepath.Abs(path)
	}

	abs, err := filepath.Abs(filepath.Join(root, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes allowed directory: %s", path)
	}

	return abs, nil
}
