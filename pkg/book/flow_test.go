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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/tombee/bookflow/pkg/engine"
	"github.com/tombee/bookflow/pkg/llm"
)

// scriptedProvider answers completion requests by pattern-matching the
// last user message, so crew prompts do not have to arrive in a fixed
// order.
type scriptedProvider struct{}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Tools: true}
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	prompt := lastUserMessage(req)

	var content string
	switch {
	case strings.Contains(prompt, "Respond with JSON only"):
		content = `{"chapters": [{"title": "Water Mills", "description": "How mills work"}, {"title": "Wind Mills", "description": "Mills in the wind"}]}`
	case strings.Contains(prompt, "Write the chapter titled"):
		title := extractQuoted(prompt)
		content = fmt.Sprintf("This chapter covers %s in depth. %s", title,
			strings.Repeat("Millwrights shaped every village economy for centuries. ", 10))
	default:
		content = "Research summary: mills are interesting."
	}

	return &llm.CompletionResponse{
		Content:      content,
		FinishReason: llm.FinishReasonStop,
		Model:        req.Model,
	}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func lastUserMessage(req llm.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.MessageRoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func extractQuoted(s string) string {
	start := strings.Index(s, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(s[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}

func TestBookFlowEndToEnd(t *testing.T) {
	dir := t.TempDir()

	flow, err := NewFlow(FlowConfig{
		Title:     "book of mills",
		Topic:     "historic mills",
		Goal:      "teach readers how mills shaped industry",
		OutputDir: dir,
		Provider:  &scriptedProvider{},
		Model:     "test-model",
		Bus:       engine.NewBus(),
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	result, err := flow.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}

	path, ok := result.(string)
	if !ok {
		t.Fatalf("Kickoff() result = %T, want string path", result)
	}
	if filepath.Base(path) != "Book_Of_Mills.md" {
		t.Errorf("output path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)

	// Chapters stay in outline order even though they were written
	// concurrently.
	waterIdx := strings.Index(content, "# Water Mills")
	windIdx := strings.Index(content, "# Wind Mills")
	if waterIdx < 0 || windIdx < 0 {
		t.Fatalf("missing chapter headings in %q", content)
	}
	if waterIdx > windIdx {
		t.Error("chapters are out of outline order")
	}
	if !strings.Contains(content, "This chapter covers Water Mills in depth.") {
		t.Errorf("missing chapter body in %q", content)
	}
}

func TestBookFlowEmitsLifecycleEvents(t *testing.T) {
	bus := engine.NewBus()

	// Chapter crews emit concurrently, so the handler guards the slice.
	var mu sync.Mutex
	var types []engine.EventType
	for _, et := range []engine.EventType{
		engine.EventFlowStarted,
		engine.EventCrewKickoffStarted,
		engine.EventTaskCompleted,
		engine.EventFlowFinished,
	} {
		et := et
		bus.On(et, func(ctx context.Context, e engine.Event) {
			mu.Lock()
			types = append(types, et)
			mu.Unlock()
		})
	}

	flow, err := NewFlow(FlowConfig{
		Topic:     "historic mills",
		Goal:      "teach readers",
		OutputDir: t.TempDir(),
		Provider:  &scriptedProvider{},
		Bus:       bus,
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if _, err := flow.Kickoff(context.Background()); err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}

	seen := map[engine.EventType]bool{}
	for _, et := range types {
		seen[et] = true
	}
	for _, want := range []engine.EventType{
		engine.EventFlowStarted,
		engine.EventCrewKickoffStarted,
		engine.EventTaskCompleted,
		engine.EventFlowFinished,
	} {
		if !seen[want] {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestBookFlowAppliesCrewWrapHook(t *testing.T) {
	// Chapter crews run concurrently, so the hook guards its record.
	var mu sync.Mutex
	var wrapped []string

	flow, err := NewFlow(FlowConfig{
		Topic:     "historic mills",
		Goal:      "teach readers",
		OutputDir: t.TempDir(),
		Provider:  &scriptedProvider{},
		Bus:       engine.NewBus(),
		WrapCrew: func(ctx context.Context, crew CrewRunner) CrewRunner {
			mu.Lock()
			wrapped = append(wrapped, crew.Name())
			mu.Unlock()
			return crew
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if _, err := flow.Kickoff(context.Background()); err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}

	counts := map[string]int{}
	for _, name := range wrapped {
		counts[name]++
	}
	if counts["Outline Crew"] != 1 {
		t.Errorf("outline crew wrapped %d times, want 1", counts["Outline Crew"])
	}
	// The scripted outline has two chapters, so two writing crews.
	if counts["Write Book Chapter Crew"] != 2 {
		t.Errorf("chapter crews wrapped %d times, want 2", counts["Write Book Chapter Crew"])
	}
}

func TestBookFlowRequiresInputs(t *testing.T) {
	_, err := NewFlow(FlowConfig{Goal: "g", Provider: &scriptedProvider{}, Bus: engine.NewBus()})
	if err == nil {
		t.Error("expected missing topic to fail")
	}

	_, err = NewFlow(FlowConfig{Topic: "t", Goal: "g", Bus: engine.NewBus()})
	if err == nil {
		t.Error("expected missing provider to fail")
	}
}
