package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/bookflow/pkg/llm"
)

// Evaluator scores a lite agent's output. A non-nil error rejects the
// output and is surfaced to the caller.
type Evaluator func(output string) error

// LiteAgent is a single-shot agent that runs outside a crew. It makes
// exactly one completion call, with no tools, memory or iteration, and
// is the cheapest way to ask a model one question.
type LiteAgent struct {
	role      string
	goal      string
	model     string
	provider  llm.Provider
	evaluator Evaluator
	bus       *Bus
	logger    *slog.Logger
}

// LiteAgentConfig configures a lite agent.
type LiteAgentConfig struct {
	// Role is the agent's persona.
	Role string

	// Goal steers the system prompt. Optional.
	Goal string

	// Model is the model identifier passed to the provider.
	Model string

	// Provider performs the completion call.
	Provider llm.Provider

	// Evaluator, when set, validates the output before it is returned.
	Evaluator Evaluator

	// Bus receives lifecycle events.
	Bus *Bus

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewLiteAgent creates a lite agent.
func NewLiteAgent(cfg LiteAgentConfig) (*LiteAgent, error) {
	if cfg.Role == "" {
		return nil, fmt.Errorf("lite agent role is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("lite agent requires an LLM provider")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("lite agent requires an event bus")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LiteAgent{
		role:      cfg.Role,
		goal:      cfg.Goal,
		model:     cfg.Model,
		provider:  cfg.Provider,
		evaluator: cfg.Evaluator,
		bus:       cfg.Bus,
		logger:    logger,
	}, nil
}

// Role returns the agent's persona.
func (a *LiteAgent) Role() string { return a.role }

// Execute answers the prompt with a single completion call. When an
// evaluator is configured, the output is scored before being returned
// and a rejection fails the execution.
func (a *LiteAgent) Execute(ctx context.Context, prompt string) (string, error) {
	a.bus.Emit(ctx, Event{Type: EventLiteAgentExecutionStarted, Source: a})

	system := fmt.Sprintf("You are %s.", a.role)
	if a.goal != "" {
		system += " Your goal: " + a.goal
	}

	req := llm.CompletionRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: system},
			{Role: llm.MessageRoleUser, Content: prompt},
		},
	}

	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		a.bus.Emit(ctx, Event{Type: EventLiteAgentExecutionError, Source: a, Error: err.Error()})
		return "", fmt.Errorf("lite agent %q: %w", a.role, err)
	}

	output := resp.Content
	if a.evaluator != nil {
		if err := a.evaluate(ctx, output); err != nil {
			a.bus.Emit(ctx, Event{Type: EventLiteAgentExecutionError, Source: a, Error: err.Error()})
			return "", err
		}
	}

	a.bus.Emit(ctx, Event{Type: EventLiteAgentExecutionCompleted, Source: a, Result: TruncateText(output, 200)})
	return output, nil
}

func (a *LiteAgent) evaluate(ctx context.Context, output string) error {
	a.bus.Emit(ctx, Event{Type: EventAgentEvaluationStarted, Source: a})

	if err := a.evaluator(output); err != nil {
		a.bus.Emit(ctx, Event{Type: EventAgentEvaluationFailed, Source: a, Error: err.Error()})
		return fmt.Errorf("output rejected: %w", err)
	}

	a.bus.Emit(ctx, Event{Type: EventAgentEvaluationCompleted, Source: a})
	return nil
}
