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

// Package knowledge loads reference material from disk and answers
// keyword queries over it. Sources feed agents background context, such
// as style guides or research notes, without putting whole files into
// every prompt.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/bookflow/pkg/engine"
)

// maxSnippetLen bounds how much of a document one query hit returns.
const maxSnippetLen = 2000

// Document is one loaded knowledge file.
type Document struct {
	// Path is the file path the document was loaded from.
	Path string

	// Content is the full file text.
	Content string
}

// FileSource is a knowledge source backed by files matched with glob
// patterns. Patterns support doublestar syntax, e.g. "notes/**/*.md".
type FileSource struct {
	bus *engine.Bus

	mu   sync.RWMutex
	docs []Document
}

// NewFileSource creates a source and loads every file matching the
// given patterns. A pattern matching nothing is not an error; an
// unreadable matched file is.
func NewFileSource(bus *engine.Bus, patterns ...string) (*FileSource, error) {
	if bus == nil {
		return nil, fmt.Errorf("knowledge source requires an event bus")
	}

	s := &FileSource{bus: bus}
	ctx := context.Background()

	s.bus.Emit(ctx, engine.Event{Type: engine.EventKnowledgeRetrievalStarted, Source: s})

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad knowledge pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", path, err)
			}
			if info.IsDir() {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			s.docs = append(s.docs, Document{Path: path, Content: string(data)})
		}
	}

	s.bus.Emit(ctx, engine.Event{Type: engine.EventKnowledgeRetrievalCompleted, Source: s})
	return s, nil
}

// Len returns the number of loaded documents.
func (s *FileSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Documents returns the loaded documents.
func (s *FileSource) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Query returns snippets from documents that mention any word of the
// query, each capped and labelled with its source path. An empty result
// is a miss, not an error.
func (s *FileSource) Query(ctx context.Context, query string) (string, error) {
	s.bus.Emit(ctx, engine.Event{Type: engine.EventKnowledgeQueryStarted, Source: s, Query: query})

	if query == "" {
		err := fmt.Errorf("knowledge query is empty")
		s.bus.Emit(ctx, engine.Event{Type: engine.EventKnowledgeQueryFailed, Source: s, Error: err.Error()})
		return "", err
	}

	terms := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	var sections []string
	for _, doc := range s.docs {
		lower := strings.ToLower(doc.Content)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				sections = append(sections, fmt.Sprintf("From %s:\n%s", doc.Path, snippet(doc.Content)))
				break
			}
		}
	}
	s.mu.RUnlock()

	s.bus.Emit(ctx, engine.Event{Type: engine.EventKnowledgeQueryCompleted, Source: s, Query: query})
	return strings.Join(sections, "\n\n"), nil
}

func snippet(content string) string {
	if len(content) <= maxSnippetLen {
		return content
	}
	return content[:maxSnippetLen] + "..."
}
