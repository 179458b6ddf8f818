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
	"testing"
)

func TestParseOutline(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{
			name: "chapters object",
			raw:  `{"chapters": [{"title": "Beginnings", "description": "How it started"}, {"title": "Endings", "description": "How it ended"}]}`,
			want: 2,
		},
		{
			name: "bare array",
			raw:  `[{"title": "Solo", "description": "One chapter"}]`,
			want: 1,
		},
		{
			name: "fenced json with prose",
			raw:  "Here is the outline you asked for:\n```json\n{\"chapters\": [{\"title\": \"Fenced\", \"description\": \"In a code block\"}]}\n```",
			want: 1,
		},
		{
			name:    "no json",
			raw:     "I could not produce an outline.",
			wantErr: true,
		},
		{
			name:    "empty chapters",
			raw:     `{"chapters": []}`,
			wantErr: true,
		},
		{
			name:    "chapter missing title",
			raw:     `{"chapters": [{"description": "untitled"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outline, err := ParseOutline(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOutline() error = %v", err)
			}
			if len(outline) != tt.want {
				t.Errorf("len(outline) = %d, want %d", len(outline), tt.want)
			}
		})
	}
}

func TestParseOutlinePreservesOrder(t *testing.T) {
	raw := `{"chapters": [{"title": "One", "description": "a"}, {"title": "Two", "description": "b"}, {"title": "Three", "description": "c"}]}`
	outline, err := ParseOutline(raw)
	if err != nil {
		t.Fatalf("ParseOutline() error = %v", err)
	}

	want := []string{"One", "Two", "Three"}
	for i, title := range want {
		if outline[i].Title != title {
			t.Errorf("outline[%d].Title = %q, want %q", i, outline[i].Title, title)
		}
	}
}

func TestOutlineGuardrail(t *testing.T) {
	if err := OutlineGuardrail(`{"chapters": [{"title": "Fine", "description": "ok"}]}`); err != nil {
		t.Errorf("guardrail rejected valid outline: %v", err)
	}
	if err := OutlineGuardrail("not json at all"); err == nil {
		t.Error("guardrail accepted invalid outline")
	}
}
