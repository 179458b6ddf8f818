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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	write := NewFileWriteTool(dir)
	read := NewFileReadTool(dir)

	result, err := write.Run(context.Background(), map[string]any{
		"path":    "chapters/one.md",
		"content": "# Chapter One\n\nIt was a dark and stormy night.",
	})
	if err != nil {
		t.Fatalf("write Run() error = %v", err)
	}
	if !strings.Contains(result, "chapters/one.md") {
		t.Errorf("write result = %q", result)
	}

	content, err := read.Run(context.Background(), map[string]any{
		"path": "chapters/one.md",
	})
	if err != nil {
		t.Fatalf("read Run() error = %v", err)
	}
	if !strings.Contains(content, "dark and stormy") {
		t.Errorf("read content = %q", content)
	}
}

func TestFileToolsRejectEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	write := NewFileWriteTool(dir)
	read := NewFileReadTool(dir)

	_, err := write.Run(context.Background(), map[string]any{
		"path":    "../outside.md",
		"content": "nope",
	})
	if err == nil {
		t.Error("expected write outside root to fail")
	}

	_, err = read.Run(context.Background(), map[string]any{
		"path": "../../etc/passwd",
	})
	if err == nil {
		t.Error("expected read outside root to fail")
	}
}

func TestFileReadMissingArguments(t *testing.T) {
	read := NewFileReadTool(t.TempDir())

	if _, err := read.Run(context.Background(), map[string]any{}); err == nil {
		t.Error("expected missing path to fail")
	}
	if _, err := read.Run(context.Background(), map[string]any{"path": 42}); err == nil {
		t.Error("expected non-string path to fail")
	}
}

func TestFileReadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	read := NewFileReadTool(dir)
	if _, err := read.Run(context.Background(), map[string]any{"path": "sub"}); err == nil {
		t.Error("expected reading a directory to fail")
	}
}

func TestWordCount(t *testing.T) {
	tool := NewWordCountTool()

	result, err := tool.Run(context.Background(), map[string]any{
		"text": "one two  three\nfour",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != "4 words" {
		t.Errorf("Run() = %q", result)
	}

	if _, err := tool.Run(context.Background(), map[string]any{}); err == nil {
		t.Error("expected missing text to fail")
	}
}
