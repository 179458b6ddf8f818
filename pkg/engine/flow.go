package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
)

// Step is one unit of work in a flow. Start steps have no
// dependencies; listener steps run once every step they name in After
// has completed. An optional Condition expression gates execution
// against the flow's state and prior results.
type Step struct {
	// Name identifies the step in events and in After references.
	Name string

	// After lists step names this step waits for. Empty means the
	// step runs at kickoff.
	After []string

	// Condition is an optional expression evaluated against
	// {"state": flow state, "results": prior step outputs}. A false
	// result skips the step without failing the flow.
	Condition string

	// Run does the work. Its return value becomes available to
	// later steps under results[Name].
	Run func(ctx context.Context, f *Flow) (any, error)
}

// Flow orchestrates a set of steps over shared state, emitting
// lifecycle events on its bus as it goes. Steps on the same dependency
// level run concurrently.
type Flow struct {
	name   string
	kind   string
	id     string
	bus    *Bus
	logger *slog.Logger
	steps  []Step

	mu      sync.Mutex
	state   any
	results map[string]any
}

// FlowConfig configures a flow.
type FlowConfig struct {
	// Name is the display name used in events and spans.
	Name string

	// Kind is the concrete flow type name, e.g. "BookFlow".
	// Defaults to "Flow".
	Kind string

	// Bus receives lifecycle events. Required.
	Bus *Bus

	// State is the initial shared state.
	State any

	// Steps in declaration order.
	Steps []Step

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewFlow creates a flow with a fresh random ID.
func NewFlow(cfg FlowConfig) (*Flow, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("flow name is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("flow requires an event bus")
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("flow %q has no steps", cfg.Name)
	}
	names := make(map[string]bool, len(cfg.Steps))
	for _, s := range cfg.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("flow %q has an unnamed step", cfg.Name)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("step %q has no run function", s.Name)
		}
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate step name %q", s.Name)
		}
		names[s.Name] = true
	}
	for _, s := range cfg.Steps {
		for _, dep := range s.After {
			if !names[dep] {
				return nil, fmt.Errorf("step %q waits for unknown step %q", s.Name, dep)
			}
		}
	}

	kind := cfg.Kind
	if kind == "" {
		kind = "Flow"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Flow{
		name:    cfg.Name,
		kind:    kind,
		id:      uuid.NewString(),
		bus:     cfg.Bus,
		logger:  logger,
		steps:   cfg.Steps,
		state:   cfg.State,
		results: make(map[string]any),
	}, nil
}

// Name returns the flow's display name.
func (f *Flow) Name() string { return f.name }

// Kind returns the concrete flow type name.
func (f *Flow) Kind() string { return f.kind }

// ID returns the flow's unique execution ID.
func (f *Flow) ID() string { return f.id }

// State returns the flow's shared state.
func (f *Flow) State() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetState replaces the flow's shared state.
func (f *Flow) SetState(state any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

// Result returns the output of a completed step.
func (f *Flow) Result(step string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.results[step]
	return v, ok
}

// Kickoff runs the flow to completion. Steps whose dependencies are
// satisfied run concurrently within a level; the flow fails on the
// first step error. The returned value is the output of the last
// declared step that ran.
func (f *Flow) Kickoff(ctx context.Context) (any, error) {
	f.bus.Emit(ctx, Event{Type: EventFlowStarted, Source: f, FlowName: f.name})

	remaining := make([]Step, len(f.steps))
	copy(remaining, f.steps)
	done := make(map[string]bool, len(f.steps))

	var lastResult any
	for len(remaining) > 0 {
		var ready, blocked []Step
		for _, s := range remaining {
			if f.depsMet(s, done) {
				ready = append(ready, s)
			} else {
				blocked = append(blocked, s)
			}
		}
		if len(ready) == 0 {
			err := fmt.Errorf("flow %q deadlocked: %d steps cannot run", f.name, len(blocked))
			f.bus.Emit(ctx, Event{Type: EventMethodExecutionFailed, Source: f, FlowName: f.name, Error: err.Error()})
			f.bus.Emit(ctx, Event{Type: EventFlowFinished, Source: f, FlowName: f.name, Error: err.Error()})
			return nil, err
		}

		results, err := f.runLevel(ctx, ready)
		if err != nil {
			// A failed flow still finishes; observers need the
			// terminal event to close out the run.
			f.bus.Emit(ctx, Event{Type: EventFlowFinished, Source: f, FlowName: f.name, Error: err.Error()})
			return nil, err
		}
		for _, s := range ready {
			done[s.Name] = true
			if r, ok := results[s.Name]; ok {
				lastResult = r
			}
		}
		remaining = blocked
	}

	f.bus.Emit(ctx, Event{
		Type:     EventFlowFinished,
		Source:   f,
		FlowName: f.name,
		Result:   renderResult(lastResult),
	})
	return lastResult, nil
}

func (f *Flow) depsMet(s Step, done map[string]bool) bool {
	for _, dep := range s.After {
		if !done[dep] {
			return false
		}
	}
	return true
}

// runLevel executes one dependency level. Steps in a level run in
// their own goroutines; the first error wins and cancels the level.
func (f *Flow) runLevel(ctx context.Context, steps []Step) (map[string]any, error) {
	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		name   string
		result any
		err    error
	}

	ch := make(chan outcome, len(steps))
	for _, s := range steps {
		go func(s Step) {
			result, err := f.runStep(levelCtx, s)
			ch <- outcome{name: s.Name, result: result, err: err}
		}(s)
	}

	results := make(map[string]any, len(steps))
	var firstErr error
	for range steps {
		out := <-ch
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
				cancel()
			}
			continue
		}
		results[out.name] = out.result
	}
	if firstErr != nil {
		return nil, firstErr
	}

	f.mu.Lock()
	for name, r := range results {
		f.results[name] = r
	}
	f.mu.Unlock()

	return results, nil
}

func (f *Flow) runStep(ctx context.Context, s Step) (any, error) {
	if s.Condition != "" {
		run, err := f.evalCondition(s)
		if err != nil {
			f.bus.Emit(ctx, Event{Type: EventMethodExecutionFailed, Source: f, FlowName: f.name, MethodName: s.Name, Error: err.Error()})
			return nil, fmt.Errorf("step %q condition: %w", s.Name, err)
		}
		if !run {
			f.logger.Debug("step skipped by condition", "flow", f.name, "step", s.Name)
			return nil, nil
		}
	}

	f.bus.Emit(ctx, Event{Type: EventMethodExecutionStarted, Source: f, FlowName: f.name, MethodName: s.Name})

	result, err := s.Run(ctx, f)
	if err != nil {
		f.bus.Emit(ctx, Event{Type: EventMethodExecutionFailed, Source: f, FlowName: f.name, MethodName: s.Name, Error: err.Error()})
		return nil, fmt.Errorf("step %q: %w", s.Name, err)
	}

	f.bus.Emit(ctx, Event{
		Type:       EventMethodExecutionFinished,
		Source:     f,
		FlowName:   f.name,
		MethodName: s.Name,
		Result:     renderResult(result),
	})
	return result, nil
}

func (f *Flow) evalCondition(s Step) (bool, error) {
	f.mu.Lock()
	env := map[string]any{
		"state":   f.state,
		"results": copyResults(f.results),
	}
	f.mu.Unlock()

	program, err := expr.Compile(s.Condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", s.Condition, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", s.Condition, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func copyResults(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// renderResult gives events a short string form of a step output.
func renderResult(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}
