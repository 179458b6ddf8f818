package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Process names how a crew schedules its tasks. Sequential is the only
// process today: each task receives the accumulated output of the
// tasks before it.
type Process string

const (
	ProcessSequential Process = "sequential"
)

// CrewOutput is the result of a crew kickoff.
type CrewOutput struct {
	// Raw is the raw output of the final task.
	Raw string

	// TaskOutputs holds every task's output in execution order.
	TaskOutputs []*TaskOutput
}

// String returns the final task's raw output.
func (o *CrewOutput) String() string { return o.Raw }

// Crew runs a set of tasks with their agents, emitting lifecycle
// events as it goes.
type Crew struct {
	name    string
	id      string
	process Process
	tasks   []*Task
	bus     *Bus
	logger  *slog.Logger
}

// CrewConfig configures a crew.
type CrewConfig struct {
	// Name is the crew's display name. Required.
	Name string

	// Tasks in execution order. Required.
	Tasks []*Task

	// Process defaults to sequential.
	Process Process

	// Bus receives lifecycle events. Required.
	Bus *Bus

	Logger *slog.Logger
}

// NewCrew creates a crew.
func NewCrew(cfg CrewConfig) (*Crew, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("crew name is required")
	}
	if len(cfg.Tasks) == 0 {
		return nil, fmt.Errorf("crew %q has no tasks", cfg.Name)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("crew %q requires an event bus", cfg.Name)
	}
	process := cfg.Process
	if process == "" {
		process = ProcessSequential
	}
	if process != ProcessSequential {
		return nil, fmt.Errorf("unsupported process %q", process)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Crew{
		name:    cfg.Name,
		id:      uuid.NewString(),
		process: process,
		tasks:   cfg.Tasks,
		bus:     cfg.Bus,
		logger:  logger,
	}, nil
}

// Name returns the crew's display name.
func (c *Crew) Name() string { return c.name }

// ID returns the crew's unique ID.
func (c *Crew) ID() string { return c.id }

// Process returns the crew's scheduling process.
func (c *Crew) Process() string { return string(c.process) }

// TaskCount returns the number of tasks in the crew.
func (c *Crew) TaskCount() int { return len(c.tasks) }

// Kickoff runs the crew's tasks in order. Inputs are interpolated into
// task descriptions using {key} placeholders; each task additionally
// receives the outputs of the tasks before it as context.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]any) (*CrewOutput, error) {
	c.bus.Emit(ctx, Event{Type: EventCrewKickoffStarted, Source: c})
	c.logger.Debug("crew kickoff", "crew", c.name, "tasks", len(c.tasks))

	out := &CrewOutput{TaskOutputs: make([]*TaskOutput, 0, len(c.tasks))}
	var contextParts []string

	for _, task := range c.tasks {
		task.description = Interpolate(task.description, inputs)
		task.expectedOutput = Interpolate(task.expectedOutput, inputs)

		taskOut, err := task.Execute(ctx, strings.Join(contextParts, "\n\n"))
		if err != nil {
			c.bus.Emit(ctx, Event{Type: EventCrewKickoffFailed, Source: c, Error: err.Error()})
			return nil, fmt.Errorf("crew %q: %w", c.name, err)
		}

		out.TaskOutputs = append(out.TaskOutputs, taskOut)
		out.Raw = taskOut.Raw
		contextParts = append(contextParts, taskOut.Raw)
	}

	c.bus.Emit(ctx, Event{Type: EventCrewKickoffCompleted, Source: c, Result: out.Raw})
	return out, nil
}

// Interpolate substitutes {key} placeholders with input values.
// Unknown placeholders are left untouched.
func Interpolate(template string, inputs map[string]any) string {
	if len(inputs) == 0 {
		return template
	}
	result := template
	for key, value := range inputs {
		result = strings.ReplaceAll(result, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return result
}
