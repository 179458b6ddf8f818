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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// outlineQuery pulls chapter objects out of whatever JSON shape the
// model produced: a {"chapters": [...]} object or a bare array.
var outlineQuery = mustParseQuery(`if type == "object" then .chapters else . end | .[] | {title: .title, description: .description}`)

func mustParseQuery(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("bad outline query: %v", err))
	}
	return q
}

// ParseOutline extracts a chapter outline from raw model output. The
// output may wrap the JSON in prose or a markdown code fence; only the
// first JSON document found is used.
func ParseOutline(raw string) ([]ChapterOutline, error) {
	doc, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var outline []ChapterOutline
	iter := outlineQuery.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("outline has unexpected shape: %w", err)
		}

		obj, isObj := v.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("outline chapter is not an object: %v", v)
		}
		title, _ := obj["title"].(string)
		description, _ := obj["description"].(string)
		if title == "" {
			return nil, fmt.Errorf("outline chapter is missing a title")
		}
		outline = append(outline, ChapterOutline{Title: title, Description: description})
	}

	if len(outline) == 0 {
		return nil, fmt.Errorf("outline contains no chapters")
	}
	return outline, nil
}

// OutlineGuardrail rejects outline crew output that does not parse into
// at least one chapter.
func OutlineGuardrail(output string) error {
	_, err := ParseOutline(output)
	return err
}

// extractJSON finds the first JSON object or array embedded in text and
// decodes it.
func extractJSON(raw string) (any, error) {
	text := strings.TrimSpace(raw)

	// Strip a markdown code fence if the whole payload is fenced.
	if strings.HasPrefix(text, "```") {
		if end := strings.LastIndex(text, "```"); end > 0 {
			text = text[:end]
		}
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON found in output")
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return doc, nil
}
