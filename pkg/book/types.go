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

// Package book assembles a complete book from a topic and a goal. An
// outline crew plans the chapters, one writing crew per chapter drafts
// them concurrently, and the results are joined into a single markdown
// file.
package book

import "sync"

// ChapterOutline is one planned chapter.
type ChapterOutline struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Chapter is one written chapter.
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// State accumulates the book as the flow progresses. It is shared by
// concurrently running chapter writers and guards itself.
type State struct {
	mu sync.Mutex

	// Title is the book title used for the output filename.
	Title string

	// Topic is what the book is about.
	Topic string

	// Goal describes what the finished book should achieve.
	Goal string

	outline  []ChapterOutline
	chapters []Chapter
}

// SetOutline stores the planned chapters.
func (s *State) SetOutline(outline []ChapterOutline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outline = outline
}

// Outline returns the planned chapters.
func (s *State) Outline() []ChapterOutline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChapterOutline, len(s.outline))
	copy(out, s.outline)
	return out
}

// AddChapter appends a written chapter at its outline position. Index
// keeps the book in outline order regardless of which writer finishes
// first.
func (s *State) AddChapter(index int, ch Chapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chapters) <= index {
		s.chapters = append(s.chapters, Chapter{})
	}
	s.chapters[index] = ch
}

// Chapters returns the written chapters in outline order.
func (s *State) Chapters() []Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chapter, len(s.chapters))
	copy(out, s.chapters)
	return out
}
