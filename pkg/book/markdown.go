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

package book

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Render joins the written chapters into one markdown document, each
// chapter under an H1 heading.
func Render(chapters []Chapter) string {
	var b strings.Builder
	for _, ch := range chapters {
		fmt.Fprintf(&b, "# %s\n\n", ch.Title)
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(ch.Content))
	}
	return b.String()
}

// Filename derives the output filename from the book title: title-cased,
// spaces replaced with underscores, ".md" appended.
func Filename(title string) string {
	name := titleCaser.String(strings.TrimSpace(title))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		name = "Untitled"
	}
	return name + ".md"
}

// Save writes the rendered book under dir and returns the full path.
func Save(dir, title, content string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, Filename(title))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to save book: %w", err)
	}
	return path, nil
}
