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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/tombee/bookflow/pkg/engine"
)

// The traced wrappers decorate engine entry points so that calling the
// wrapper opens a span around the real call. Unlike the listener's
// point-in-time event spans, these spans follow the call for its full
// duration. Errors pass through unchanged; the wrappers observe, they
// never alter outcomes.

// FlowRunner is the flow surface the wrapper decorates.
type FlowRunner interface {
	Name() string
	Kickoff(ctx context.Context) (any, error)
}

// CrewRunner is the crew surface the wrapper decorates.
type CrewRunner interface {
	Name() string
	Kickoff(ctx context.Context, inputs map[string]any) (*engine.CrewOutput, error)
}

// TaskExecutor is the task surface the wrapper decorates.
type TaskExecutor interface {
	Description() string
	Execute(ctx context.Context, input string) (*engine.TaskOutput, error)
}

// ToolRunner is the tool surface the wrapper decorates.
type ToolRunner interface {
	Name() string
	Run(ctx context.Context, args map[string]any) (string, error)
}

// TracedFlow wraps a flow so that Kickoff runs inside a root-style
// execution span. The span stays open for the flow's entire run,
// including work the flow hands to other goroutines before returning.
type TracedFlow struct {
	flow    FlowRunner
	factory *SpanFactory
}

// WrapFlow decorates a flow with an execution span around Kickoff.
func WrapFlow(flow FlowRunner, factory *SpanFactory) *TracedFlow {
	return &TracedFlow{flow: flow, factory: factory}
}

// Name returns the underlying flow's name.
func (t *TracedFlow) Name() string { return t.flow.Name() }

// Kickoff runs the flow inside a "Flow Execution" span.
func (t *TracedFlow) Kickoff(ctx context.Context) (any, error) {
	kind := "Flow"
	if k, ok := t.flow.(engine.Kinded); ok && k.Kind() != "" {
		kind = k.Kind()
	}
	attrs := map[string]any{
		"flow.name":  t.flow.Name(),
		"flow.class": kind,
		"event.type": "flow_execution",
	}
	if ident, ok := t.flow.(interface{ ID() string }); ok {
		attrs["flow.id"] = ident.ID()
	}

	ctx, span := t.factory.StartSpan(ctx, fmt.Sprintf("Flow Execution: %s", t.flow.Name()), attrs)
	defer span.End()

	result, err := t.flow.Kickoff(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// TracedCrew wraps a crew. WrapCrew emits a "Crew Created" marker at
// wrap time, mirroring constructor interception: the crew is fully
// constructed before the marker records it.
type TracedCrew struct {
	crew    CrewRunner
	factory *SpanFactory
}

// WrapCrew decorates a crew, emitting the creation marker immediately.
func WrapCrew(ctx context.Context, crew CrewRunner, factory *SpanFactory) *TracedCrew {
	attrs := map[string]any{
		"crew.name":  crew.Name(),
		"event.type": "crew_created",
	}
	if ident, ok := crew.(interface{ ID() string }); ok {
		attrs["crew.id"] = ident.ID()
	}
	if p, ok := crew.(interface{ Process() string }); ok {
		attrs["crew.process"] = p.Process()
	}
	if tc, ok := crew.(interface{ TaskCount() int }); ok {
		attrs["crew.task_count"] = tc.TaskCount()
	}
	factory.Marker(ctx, fmt.Sprintf("Crew Created: %s", crew.Name()), attrs)

	return &TracedCrew{crew: crew, factory: factory}
}

// Name returns the underlying crew's name.
func (t *TracedCrew) Name() string { return t.crew.Name() }

// Kickoff runs the crew inside a "Crew Execution" span.
func (t *TracedCrew) Kickoff(ctx context.Context, inputs map[string]any) (*engine.CrewOutput, error) {
	attrs := map[string]any{
		"crew.name":  t.crew.Name(),
		"event.type": "crew_execution",
	}
	if ident, ok := t.crew.(interface{ ID() string }); ok {
		attrs["crew.id"] = ident.ID()
	}
	if p, ok := t.crew.(interface{ Process() string }); ok {
		attrs["crew.process"] = p.Process()
	}
	if tc, ok := t.crew.(interface{ TaskCount() int }); ok {
		attrs["crew.task_count"] = tc.TaskCount()
	}

	ctx, span := t.factory.StartSpan(ctx, fmt.Sprintf("Crew Execution: %s", t.crew.Name()), attrs)
	defer span.End()

	out, err := t.crew.Kickoff(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// TracedTask wraps a task. WrapTask emits a "Task Created" marker at
// wrap time; Execute runs inside a "Task Execution" span. Span names
// use the truncated description, attributes carry the full one.
type TracedTask struct {
	task    TaskExecutor
	factory *SpanFactory
}

// WrapTask decorates a task, emitting the creation marker immediately.
func WrapTask(ctx context.Context, task TaskExecutor, factory *SpanFactory) *TracedTask {
	attrs := map[string]any{
		"task.description": task.Description(),
		"event.type":       "task_created",
	}
	if ident, ok := task.(interface{ ID() string }); ok {
		attrs["task.id"] = ident.ID()
	}
	if eo, ok := task.(interface{ ExpectedOutput() string }); ok {
		attrs["task.expected_output"] = eo.ExpectedOutput()
	}
	factory.Marker(ctx, fmt.Sprintf("Task Created: %s", TruncateName(task.Description())), attrs)

	return &TracedTask{task: task, factory: factory}
}

// Description returns the underlying task's description.
func (t *TracedTask) Description() string { return t.task.Description() }

// Execute runs the task inside a "Task Execution" span.
func (t *TracedTask) Execute(ctx context.Context, input string) (*engine.TaskOutput, error) {
	attrs := map[string]any{
		"task.description": t.task.Description(),
		"event.type":       "task_execution",
	}
	if ident, ok := t.task.(interface{ ID() string }); ok {
		attrs["task.id"] = ident.ID()
	}
	if eo, ok := t.task.(interface{ ExpectedOutput() string }); ok {
		attrs["task.expected_output"] = eo.ExpectedOutput()
	}
	if ar, ok := t.task.(interface{ AgentRole() string }); ok {
		attrs["agent.role"] = ar.AgentRole()
	}

	name := fmt.Sprintf("Task Execution: %s", TruncateName(t.task.Description()))
	ctx, span := t.factory.StartSpan(ctx, name, attrs)
	defer span.End()

	out, err := t.task.Execute(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// TracedTool wraps a tool so every Run produces a span.
type TracedTool struct {
	tool    ToolRunner
	factory *SpanFactory
}

// WrapTool decorates a tool with a span around each invocation.
func WrapTool(tool ToolRunner, factory *SpanFactory) *TracedTool {
	return &TracedTool{tool: tool, factory: factory}
}

// Name returns the underlying tool's name.
func (t *TracedTool) Name() string { return t.tool.Name() }

// Run invokes the tool inside a "Tool" span.
func (t *TracedTool) Run(ctx context.Context, args map[string]any) (string, error) {
	name := t.tool.Name()
	if name == "" {
		name = unknownTool
	}
	ctx, span := t.factory.StartSpan(ctx, fmt.Sprintf("Tool: %s", name), map[string]any{
		"tool.name":  name,
		"event.type": "tool_usage",
	})
	defer span.End()

	out, err := t.tool.Run(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}
