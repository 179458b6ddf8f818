package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tombee/bookflow/pkg/errors"
)

// Guardrail validates a task's raw output. A non-nil error rejects the
// output; the task retries with the error fed back to the agent.
type Guardrail func(output string) error

// TaskOutput is the result of one task execution.
type TaskOutput struct {
	// Raw is the agent's final answer.
	Raw string

	// Description echoes the task description.
	Description string

	// Agent is the role of the agent that produced the output.
	Agent string
}

// Task is a unit of agent work inside a crew.
type Task struct {
	id             string
	description    string
	expectedOutput string
	agent          *Agent
	guardrail      Guardrail
	maxRetries     int
	bus            *Bus
}

// TaskConfig configures a task.
type TaskConfig struct {
	// Description tells the agent what to do. Required.
	Description string

	// ExpectedOutput describes the shape of a good answer.
	ExpectedOutput string

	// Agent executes the task. Required.
	Agent *Agent

	// Guardrail optionally validates the output.
	Guardrail Guardrail

	// MaxRetries bounds guardrail-driven retries. Defaults to 2.
	MaxRetries int

	// Bus receives lifecycle events. Required.
	Bus *Bus
}

// NewTask creates a task.
func NewTask(cfg TaskConfig) (*Task, error) {
	if cfg.Description == "" {
		return nil, fmt.Errorf("task description is required")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("task requires an agent")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("task requires an event bus")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	return &Task{
		id:             uuid.NewString(),
		description:    cfg.Description,
		expectedOutput: cfg.ExpectedOutput,
		agent:          cfg.Agent,
		guardrail:      cfg.Guardrail,
		maxRetries:     maxRetries,
		bus:            cfg.Bus,
	}, nil
}

// ID returns the task's unique ID.
func (t *Task) ID() string { return t.id }

// Description returns what the task asks for.
func (t *Task) Description() string { return t.description }

// ExpectedOutput describes the shape of a good answer.
func (t *Task) ExpectedOutput() string { return t.expectedOutput }

// AgentRole returns the role of the assigned agent.
func (t *Task) AgentRole() string { return t.agent.Role() }

// Execute runs the task. The input carries context from earlier tasks
// in the crew and is appended to the prompt when present.
func (t *Task) Execute(ctx context.Context, input string) (*TaskOutput, error) {
	t.bus.Emit(ctx, Event{Type: EventTaskStarted, Source: t})

	prompt := t.prompt(input)
	var lastErr error
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		raw, err := t.agent.Execute(ctx, prompt)
		if err != nil {
			t.bus.Emit(ctx, Event{Type: EventTaskFailed, Source: t, Error: err.Error()})
			return nil, fmt.Errorf("task %q: %w", TruncateText(t.description, 50), err)
		}

		if t.guardrail != nil {
			t.bus.Emit(ctx, Event{Type: EventLLMGuardrailStarted, Source: t})
			gErr := t.guardrail(raw)
			t.bus.Emit(ctx, Event{Type: EventLLMGuardrailCompleted, Source: t})
			if gErr != nil {
				lastErr = &errors.GuardrailError{
					Task:    TruncateText(t.description, 50),
					Reason:  gErr.Error(),
					Attempt: attempt + 1,
				}
				prompt = fmt.Sprintf("%s\n\nYour previous answer was rejected: %v\nFix the problem and answer again.", t.prompt(input), gErr)
				continue
			}
		}

		out := &TaskOutput{
			Raw:         raw,
			Description: t.description,
			Agent:       t.agent.Role(),
		}
		t.bus.Emit(ctx, Event{Type: EventTaskCompleted, Source: t, Result: raw})
		return out, nil
	}

	err := fmt.Errorf("task output rejected after %d attempts: %w", t.maxRetries, lastErr)
	t.bus.Emit(ctx, Event{Type: EventTaskFailed, Source: t, Error: err.Error()})
	return nil, err
}

func (t *Task) prompt(input string) string {
	prompt := t.description
	if t.expectedOutput != "" {
		prompt += "\n\nExpected output: " + t.expectedOutput
	}
	if input != "" {
		prompt += "\n\nContext from earlier tasks:\n" + input
	}
	return prompt
}

// TruncateText shortens s to max bytes, appending "..." only when
// something was cut.
func TruncateText(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
