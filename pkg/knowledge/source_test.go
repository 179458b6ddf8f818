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

package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/bookflow/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileSourceLoadsGlobMatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes/style.md", "Prefer short sentences. Avoid adverbs.")
	writeFile(t, dir, "notes/deep/research.md", "Ancient mills ground grain with water power.")
	writeFile(t, dir, "notes/ignore.txt", "not matched")

	src, err := NewFileSource(engine.NewBus(), filepath.Join(dir, "notes/**/*.md"))
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}
	if src.Len() != 2 {
		t.Errorf("Len() = %d, want 2", src.Len())
	}
}

func TestFileSourceQuery(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "style.md", "Prefer short sentences. Avoid adverbs.")
	writeFile(t, dir, "research.md", "Ancient mills ground grain with water power.")

	bus := engine.NewBus()
	var seen []engine.EventType
	bus.On(engine.EventKnowledgeQueryStarted, func(ctx context.Context, e engine.Event) {
		seen = append(seen, e.Type)
	})
	bus.On(engine.EventKnowledgeQueryCompleted, func(ctx context.Context, e engine.Event) {
		seen = append(seen, e.Type)
	})

	src, err := NewFileSource(bus, filepath.Join(dir, "*.md"))
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}

	result, err := src.Query(context.Background(), "water mills")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !strings.Contains(result, "water power") {
		t.Errorf("Query() = %q, want research snippet", result)
	}
	if strings.Contains(result, "adverbs") {
		t.Errorf("Query() matched unrelated document: %q", result)
	}

	if len(seen) != 2 {
		t.Errorf("expected query started and completed events, got %v", seen)
	}
}

func TestFileSourceQueryMissAndEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "style.md", "Prefer short sentences.")

	src, err := NewFileSource(engine.NewBus(), filepath.Join(dir, "*.md"))
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}

	result, err := src.Query(context.Background(), "zeppelin")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result != "" {
		t.Errorf("Query() = %q, want empty miss", result)
	}

	if _, err := src.Query(context.Background(), ""); err == nil {
		t.Error("expected empty query to fail")
	}
}
