package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tombee/bookflow/pkg/errors"
	"github.com/tombee/bookflow/pkg/llm"
)

func newTaskFixture(t *testing.T, provider llm.Provider, cfg TaskConfig) (*Task, *Bus) {
	t.Helper()
	bus := NewBus()

	agent, err := NewAgent(AgentConfig{
		Role:     "Worker",
		Model:    "m",
		Provider: provider,
		Bus:      bus,
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg.Agent = agent
	cfg.Bus = bus
	task, err := NewTask(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return task, bus
}

func TestTaskExecute(t *testing.T) {
	provider := &stubProvider{responses: []*llm.CompletionResponse{textResponse("result text")}}
	task, bus := newTaskFixture(t, provider, TaskConfig{
		Description:    "Describe a mill.",
		ExpectedOutput: "One paragraph.",
	})

	var types []EventType
	for _, et := range []EventType{EventTaskStarted, EventTaskCompleted} {
		et := et
		bus.On(et, func(ctx context.Context, e Event) { types = append(types, e.Type) })
	}

	out, err := task.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Raw != "result text" {
		t.Errorf("Raw = %q", out.Raw)
	}
	if out.Agent != "Worker" {
		t.Errorf("Agent = %q", out.Agent)
	}

	prompt := provider.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "Expected output: One paragraph.") {
		t.Errorf("prompt = %q, missing expected output", prompt)
	}

	want := []EventType{EventTaskStarted, EventTaskCompleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestTaskGuardrailRetry(t *testing.T) {
	provider := &stubProvider{responses: []*llm.CompletionResponse{
		textResponse("too short"),
		textResponse("a proper, much longer answer"),
	}}
	task, _ := newTaskFixture(t, provider, TaskConfig{
		Description: "Write something long.",
		Guardrail: func(output string) error {
			if len(output) < 20 {
				return fmt.Errorf("output too short")
			}
			return nil
		},
	})

	out, err := task.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Raw != "a proper, much longer answer" {
		t.Errorf("Raw = %q", out.Raw)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(provider.requests))
	}

	// The retry prompt carries the rejection reason.
	retry := provider.requests[1].Messages[1].Content
	if !strings.Contains(retry, "Your previous answer was rejected: output too short") {
		t.Errorf("retry prompt = %q", retry)
	}
}

func TestTaskGuardrailExhaustsRetries(t *testing.T) {
	provider := &stubProvider{responses: []*llm.CompletionResponse{textResponse("bad")}}
	task, bus := newTaskFixture(t, provider, TaskConfig{
		Description: "Impossible standard.",
		MaxRetries:  3,
		Guardrail: func(output string) error {
			return fmt.Errorf("never good enough")
		},
	})

	var failed []Event
	bus.On(EventTaskFailed, func(ctx context.Context, e Event) { failed = append(failed, e) })

	_, err := task.Execute(context.Background(), "")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}

	var gErr *errors.GuardrailError
	if !errors.As(err, &gErr) {
		t.Fatalf("error %v does not wrap GuardrailError", err)
	}
	if gErr.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", gErr.Attempt)
	}
	if len(provider.requests) != 3 {
		t.Errorf("provider calls = %d, want 3", len(provider.requests))
	}
	if len(failed) != 1 {
		t.Errorf("task failed events = %d", len(failed))
	}
}

func TestTaskContextAppendedToPrompt(t *testing.T) {
	provider := &stubProvider{responses: []*llm.CompletionResponse{textResponse("ok")}}
	task, _ := newTaskFixture(t, provider, TaskConfig{Description: "Continue the work."})

	if _, err := task.Execute(context.Background(), "earlier findings"); err != nil {
		t.Fatal(err)
	}

	prompt := provider.requests[0].Messages[1].Content
	if !strings.Contains(prompt, "Context from earlier tasks:\nearlier findings") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestTaskAccessors(t *testing.T) {
	provider := &stubProvider{responses: []*llm.CompletionResponse{textResponse("x")}}
	task, _ := newTaskFixture(t, provider, TaskConfig{
		Description:    "Do the thing.",
		ExpectedOutput: "A thing.",
	})

	if task.ID() == "" {
		t.Error("ID() is empty")
	}
	if task.Description() != "Do the thing." {
		t.Errorf("Description() = %q", task.Description())
	}
	if task.ExpectedOutput() != "A thing." {
		t.Errorf("ExpectedOutput() = %q", task.ExpectedOutput())
	}
	if task.AgentRole() != "Worker" {
		t.Errorf("AgentRole() = %q", task.AgentRole())
	}
}

func TestTruncateText(t *testing.T) {
	if got := TruncateText("short", 10); got != "short" {
		t.Errorf("TruncateText() = %q", got)
	}
	if got := TruncateText("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("TruncateText() = %q", got)
	}
	if got := TruncateText("0123456789", 10); got != "0123456789" {
		t.Errorf("TruncateText() = %q", got)
	}
}
