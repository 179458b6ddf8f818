package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/bookflow/pkg/llm"
)

// Agent is a role-playing LLM worker. It answers task prompts by
// iterating with its provider, invoking tools when the model requests
// them, and emitting lifecycle events throughout.
type Agent struct {
	role      string
	goal      string
	backstory string
	model     string
	provider  llm.Provider
	tools     []Tool
	maxIter   int
	reasoning bool
	verbose   bool
	bus       *Bus
	logger    *slog.Logger
	memory    *Memory
}

// AgentConfig configures an agent.
type AgentConfig struct {
	// Role is the agent's persona, e.g. "Senior Technical Writer".
	Role string

	// Goal states what the agent optimizes for.
	Goal string

	// Backstory adds grounding detail to the system prompt.
	Backstory string

	// Model names the model passed to the provider.
	Model string

	// Provider answers completion requests. Required.
	Provider llm.Provider

	// Tools the agent may invoke.
	Tools []Tool

	// MaxIterations bounds the tool loop. Defaults to 10.
	MaxIterations int

	// Reasoning enables a planning pass before the main loop.
	Reasoning bool

	// Verbose emits agent log events for each loop iteration.
	Verbose bool

	// Bus receives lifecycle events. Required.
	Bus *Bus

	// Memory, when set, is consulted before and updated after
	// execution.
	Memory *Memory

	Logger *slog.Logger
}

// NewAgent creates an agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Role == "" {
		return nil, fmt.Errorf("agent role is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent %q requires a provider", cfg.Role)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("agent %q requires an event bus", cfg.Role)
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		role:      cfg.Role,
		goal:      cfg.Goal,
		backstory: cfg.Backstory,
		model:     cfg.Model,
		provider:  cfg.Provider,
		tools:     cfg.Tools,
		maxIter:   maxIter,
		reasoning: cfg.Reasoning,
		verbose:   cfg.Verbose,
		bus:       cfg.Bus,
		logger:    logger,
		memory:    cfg.Memory,
	}, nil
}

// Role returns the agent's persona.
func (a *Agent) Role() string { return a.role }

// Execute answers the prompt, iterating through tool calls until the
// model produces a final answer or the iteration budget runs out.
func (a *Agent) Execute(ctx context.Context, prompt string) (string, error) {
	a.bus.Emit(ctx, Event{Type: EventAgentExecutionStarted, Source: a})
	if a.verbose {
		a.bus.Emit(ctx, Event{Type: EventAgentLogsStarted, Source: a})
	}

	if a.reasoning {
		a.plan(ctx, prompt)
	}

	var memoryContext string
	if a.memory != nil {
		if recalled, err := a.memory.Query(ctx, prompt); err == nil && recalled != "" {
			memoryContext = recalled
		}
	}

	messages := []llm.Message{
		{Role: llm.MessageRoleSystem, Content: a.systemPrompt()},
		{Role: llm.MessageRoleUser, Content: a.userPrompt(prompt, memoryContext)},
	}

	answer, err := a.loop(ctx, messages)
	if err != nil {
		a.bus.Emit(ctx, Event{Type: EventAgentExecutionError, Source: a, Error: err.Error()})
		return "", err
	}

	if a.memory != nil {
		// Best effort; a failed save must not fail the task.
		_ = a.memory.Save(ctx, prompt, answer)
	}

	a.bus.Emit(ctx, Event{Type: EventAgentExecutionCompleted, Source: a, Result: answer})
	return answer, nil
}

// plan runs a short reasoning pass. Failures are reported as events
// and swallowed; planning is advisory.
func (a *Agent) plan(ctx context.Context, prompt string) {
	a.bus.Emit(ctx, Event{Type: EventAgentReasoningStarted, Source: a})

	req := llm.CompletionRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: a.systemPrompt()},
			{Role: llm.MessageRoleUser, Content: "Outline, in a few short bullet points, how you will approach this task:\n\n" + prompt},
		},
	}
	if _, err := a.provider.Complete(ctx, req); err != nil {
		a.bus.Emit(ctx, Event{Type: EventAgentReasoningFailed, Source: a, Error: err.Error()})
		return
	}
	a.bus.Emit(ctx, Event{Type: EventAgentReasoningCompleted, Source: a})
}

func (a *Agent) loop(ctx context.Context, messages []llm.Message) (string, error) {
	toolDefs := a.toolDefinitions()

	for iter := 0; iter < a.maxIter; iter++ {
		if a.verbose {
			a.bus.Emit(ctx, Event{Type: EventAgentLogsExecution, Source: a})
		}

		req := llm.CompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefs,
		}

		a.bus.Emit(ctx, Event{Type: EventLLMCallStarted, Source: a, Model: a.model})
		resp, err := a.provider.Complete(ctx, req)
		if err != nil {
			a.bus.Emit(ctx, Event{Type: EventLLMCallFailed, Source: a, Model: a.model, Error: err.Error()})
			return "", fmt.Errorf("llm call: %w", err)
		}
		a.bus.Emit(ctx, Event{Type: EventLLMCallCompleted, Source: a, Model: a.model})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.MessageRoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := a.invokeTool(ctx, call)
			messages = append(messages, llm.Message{
				Role:       llm.MessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	return "", fmt.Errorf("agent %q exceeded %d iterations without a final answer", a.role, a.maxIter)
}

// invokeTool runs one tool call. Tool failures are reported to the
// model as text so it can recover, never as an execution error.
func (a *Agent) invokeTool(ctx context.Context, call llm.ToolCall) string {
	a.bus.Emit(ctx, Event{Type: EventToolUsageStarted, Source: a, ToolName: call.Name})

	tool := a.findTool(call.Name)
	if tool == nil {
		err := fmt.Sprintf("unknown tool %q", call.Name)
		a.bus.Emit(ctx, Event{Type: EventToolExecutionError, Source: a, ToolName: call.Name, Error: err})
		return "Error: " + err
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			msg := fmt.Sprintf("invalid arguments for %q: %v", call.Name, err)
			a.bus.Emit(ctx, Event{Type: EventToolExecutionError, Source: a, ToolName: call.Name, Error: msg})
			return "Error: " + msg
		}
	}

	result, err := tool.Run(ctx, args)
	if err != nil {
		a.bus.Emit(ctx, Event{Type: EventToolExecutionError, Source: a, ToolName: call.Name, Error: err.Error()})
		return "Error: " + err.Error()
	}

	a.bus.Emit(ctx, Event{Type: EventToolUsageFinished, Source: a, ToolName: call.Name})
	return result
}

func (a *Agent) findTool(name string) Tool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (a *Agent) toolDefinitions() []llm.Tool {
	if len(a.tools) == 0 {
		return nil
	}
	defs := make([]llm.Tool, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", a.role)
	if a.goal != "" {
		fmt.Fprintf(&b, " Your goal: %s.", a.goal)
	}
	if a.backstory != "" {
		fmt.Fprintf(&b, "\n\n%s", a.backstory)
	}
	return b.String()
}

func (a *Agent) userPrompt(prompt, memoryContext string) string {
	if memoryContext == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nRelevant context from earlier work:\n%s", prompt, memoryContext)
}
