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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tombee/bookflow/pkg/engine"
)

// Placeholder values used when an event arrives without its subject.
const (
	unknownFlow   = "Unknown Flow"
	unknownMethod = "Unknown Method"
	unknownCrew   = "Unknown Crew"
	unknownTask   = "Unknown Task"
	unknownAgent  = "Unknown Agent"
	unknownModel  = "Unknown Model"
	unknownTool   = "Unknown Tool"
	unknownError  = "Unknown Error"
)

// eventSpec describes how one event kind becomes a span: the span name
// and the kind-specific attributes extracted from the event.
type eventSpec struct {
	name  func(e engine.Event) string
	attrs func(e engine.Event) map[string]any
}

// Listener subscribes to an engine event bus and renders every
// lifecycle event as a span. Flow start and finish events manage the
// root slot in the RootTracker; everything else becomes a short span
// parented to the active root, or a root of its own when no flow is
// running.
type Listener struct {
	factory *SpanFactory
	roots   *RootTracker
	logger  *slog.Logger
	metrics *MetricsCollector
	kinds   map[engine.EventType]bool

	bus      *engine.Bus
	removers []func()

	// Start times for in-flight work, keyed by event source. Task
	// events from concurrent crews arrive on different goroutines.
	mu         sync.Mutex
	flowID     string
	flowStart  time.Time
	taskStarts map[any]time.Time
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithEventKinds restricts the listener to a subset of event kinds.
// Flow start and finish are always observed so that root bookkeeping
// stays correct.
func WithEventKinds(kinds ...engine.EventType) ListenerOption {
	return func(l *Listener) {
		l.kinds = make(map[engine.EventType]bool, len(kinds))
		for _, k := range kinds {
			l.kinds[k] = true
		}
	}
}

// WithListenerLogger overrides the logger used for the console
// side-channel.
func WithListenerLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) { l.logger = logger }
}

// WithListenerMetrics counts observed events on the collector.
func WithListenerMetrics(metrics *MetricsCollector) ListenerOption {
	return func(l *Listener) { l.metrics = metrics }
}

// NewListener returns a listener creating spans through factory and
// parenting them via roots.
func NewListener(factory *SpanFactory, roots *RootTracker, opts ...ListenerOption) *Listener {
	l := &Listener{
		factory:    factory,
		roots:      roots,
		logger:     slog.Default(),
		taskStarts: make(map[any]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register subscribes the listener to every event kind it observes.
// Calling Register twice without Unregister doubles the subscriptions;
// the Instrumentor guards against that.
func (l *Listener) Register(bus *engine.Bus) {
	l.bus = bus
	subscribe := func(kind engine.EventType, h engine.Handler) {
		off := bus.On(kind, h)
		l.removers = append(l.removers, off)
	}

	subscribe(engine.EventFlowStarted, l.onFlowStarted)
	subscribe(engine.EventFlowFinished, l.onFlowFinished)
	for kind := range eventTable {
		if l.kinds != nil && !l.kinds[kind] {
			continue
		}
		subscribe(kind, l.onEvent)
	}
}

// Unregister removes every subscription made by Register.
func (l *Listener) Unregister() {
	for _, off := range l.removers {
		off()
	}
	l.removers = nil
	l.bus = nil
}

func (l *Listener) onFlowStarted(ctx context.Context, e engine.Event) {
	name := flowName(e)
	kind := "Flow"
	if k, ok := e.Source.(engine.Kinded); ok && k.Kind() != "" {
		kind = k.Kind()
	}
	l.roots.Begin(ctx, fmt.Sprintf("%s Execution: %s", kind, name), map[string]any{
		"flow.name":  name,
		"flow.class": kind,
		"event.type": "flow_execution",
	})
	if l.metrics != nil {
		l.metrics.RecordEvent(ctx, string(e.Type))
		id := name
		if ident, ok := e.Source.(interface{ ID() string }); ok && ident.ID() != "" {
			id = ident.ID()
		}
		l.mu.Lock()
		l.flowID = id
		l.flowStart = time.Now()
		l.mu.Unlock()
		l.metrics.RecordFlowStart(ctx, id)
	}
	l.logger.Info(fmt.Sprintf("Flow started: %s - %s", kind, name))
}

func (l *Listener) onFlowFinished(ctx context.Context, e engine.Event) {
	var finishErr error
	if e.Error != "" {
		finishErr = errors.New(e.Error)
	}
	l.roots.Finish(map[string]any{
		"event.type":    "flow_completed",
		"flow.result":   e.Result,
		"error.message": e.Error,
	}, finishErr)
	if l.metrics != nil {
		l.metrics.RecordEvent(ctx, string(e.Type))
		l.mu.Lock()
		id, start := l.flowID, l.flowStart
		l.flowID = ""
		l.flowStart = time.Time{}
		l.mu.Unlock()
		status := "success"
		if e.Error != "" {
			status = "error"
		}
		var elapsed time.Duration
		if !start.IsZero() {
			elapsed = time.Since(start)
		}
		l.metrics.RecordFlowComplete(ctx, id, flowName(e), status, elapsed)
	}
	l.logger.Info(fmt.Sprintf("Flow finished: %s", flowName(e)))
}

// onEvent renders a non-root event as a point-in-time span parented to
// the active flow root when one exists.
func (l *Listener) onEvent(ctx context.Context, e engine.Event) {
	spec, ok := eventTable[e.Type]
	if !ok {
		return
	}
	if l.metrics != nil {
		l.metrics.RecordEvent(ctx, string(e.Type))
		l.recordEventMetrics(ctx, e)
	}
	parent := context.Background()
	if rootCtx, active := l.roots.Context(); active {
		parent = rootCtx
	}

	name := spec.name(e)
	attrs := spec.attrs(e)
	attrs["event.type"] = string(e.Type)
	l.factory.Marker(parent, name, attrs)

	l.logger.Info(fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Type)), name))
}

// recordEventMetrics feeds the task and tool instruments from the
// event stream. Task durations pair a Started with its Completed or
// Failed by source.
func (l *Listener) recordEventMetrics(ctx context.Context, e engine.Event) {
	switch e.Type {
	case engine.EventTaskStarted:
		l.mu.Lock()
		l.taskStarts[e.Source] = time.Now()
		l.mu.Unlock()
	case engine.EventTaskCompleted, engine.EventTaskFailed:
		l.mu.Lock()
		start, started := l.taskStarts[e.Source]
		delete(l.taskStarts, e.Source)
		l.mu.Unlock()
		status := "success"
		if e.Type == engine.EventTaskFailed {
			status = "error"
		}
		var elapsed time.Duration
		if started {
			elapsed = time.Since(start)
		}
		l.metrics.RecordTaskComplete(ctx, taskTitle(e), status, elapsed)
	case engine.EventToolUsageFinished:
		l.metrics.RecordToolCall(ctx, toolName(e), "success")
	case engine.EventToolExecutionError:
		l.metrics.RecordToolCall(ctx, toolName(e), "error")
	}
}

// Subject extractors. Each falls back to its placeholder so that a
// malformed event still produces a legible span.

func flowName(e engine.Event) string {
	if e.FlowName != "" {
		return e.FlowName
	}
	if n, ok := e.Source.(engine.Named); ok && n.Name() != "" {
		return n.Name()
	}
	return unknownFlow
}

func methodName(e engine.Event) string {
	if e.MethodName != "" {
		return e.MethodName
	}
	return unknownMethod
}

func crewName(e engine.Event) string {
	if n, ok := e.Source.(engine.Named); ok && n.Name() != "" {
		return n.Name()
	}
	return unknownCrew
}

func taskDescription(e engine.Event) string {
	if d, ok := e.Source.(engine.Described); ok && d.Description() != "" {
		return d.Description()
	}
	return unknownTask
}

func agentRole(e engine.Event) string {
	if r, ok := e.Source.(engine.RolePlayer); ok && r.Role() != "" {
		return r.Role()
	}
	return unknownAgent
}

func modelName(e engine.Event) string {
	if e.Model != "" {
		return e.Model
	}
	return unknownModel
}

func toolName(e engine.Event) string {
	if e.ToolName != "" {
		return e.ToolName
	}
	return unknownTool
}

func errorMessage(e engine.Event) string {
	if e.Error != "" {
		return e.Error
	}
	return unknownError
}

// Attribute builders shared by several table entries.

func methodAttrs(e engine.Event) map[string]any {
	return map[string]any{"method.name": methodName(e)}
}

func crewAttrs(e engine.Event) map[string]any {
	return map[string]any{"crew.name": crewName(e)}
}

func taskAttrs(e engine.Event) map[string]any {
	return map[string]any{"task.description": taskDescription(e)}
}

func agentAttrs(e engine.Event) map[string]any {
	return map[string]any{"agent.role": agentRole(e)}
}

func llmAttrs(e engine.Event) map[string]any {
	return map[string]any{"llm.model": modelName(e)}
}

func toolAttrs(e engine.Event) map[string]any {
	return map[string]any{"tool.name": toolName(e)}
}

func emptyAttrs(engine.Event) map[string]any {
	return map[string]any{}
}

func withError(base func(engine.Event) map[string]any) func(engine.Event) map[string]any {
	return func(e engine.Event) map[string]any {
		attrs := base(e)
		attrs["error.message"] = errorMessage(e)
		return attrs
	}
}

func named(prefix string, subject func(engine.Event) string) func(engine.Event) string {
	return func(e engine.Event) string {
		return fmt.Sprintf("%s: %s", prefix, subject(e))
	}
}

func fixed(name string) func(engine.Event) string {
	return func(engine.Event) string { return name }
}

func taskTitle(e engine.Event) string {
	return TruncateName(taskDescription(e))
}

// eventTable maps each observed event kind to its span rendering.
// Flow start and finish are handled separately because they touch the
// root slot.
var eventTable = map[engine.EventType]eventSpec{
	engine.EventMethodExecutionStarted:  {named("Method", methodName), methodAttrs},
	engine.EventMethodExecutionFinished: {named("Method Completed", methodName), methodAttrs},
	engine.EventMethodExecutionFailed:   {named("Method Failed", methodName), withError(methodAttrs)},

	engine.EventCrewKickoffStarted:   {named("Crew", crewName), crewAttrs},
	engine.EventCrewKickoffCompleted: {named("Crew Completed", crewName), crewAttrs},
	engine.EventCrewKickoffFailed:    {named("Crew Failed", crewName), withError(crewAttrs)},

	engine.EventTaskStarted:   {named("Task", taskTitle), taskAttrs},
	engine.EventTaskCompleted: {named("Task Completed", taskTitle), taskAttrs},
	engine.EventTaskFailed:    {named("Task Failed", taskTitle), withError(taskAttrs)},

	engine.EventAgentExecutionStarted:   {named("Agent", agentRole), agentAttrs},
	engine.EventAgentExecutionCompleted: {named("Agent Completed", agentRole), agentAttrs},
	engine.EventAgentExecutionError:     {named("Agent Error", agentRole), withError(agentAttrs)},

	engine.EventLLMCallStarted:   {named("LLM Call", modelName), llmAttrs},
	engine.EventLLMCallCompleted: {named("LLM Completed", modelName), llmAttrs},
	engine.EventLLMCallFailed:    {named("LLM Failed", modelName), withError(llmAttrs)},

	engine.EventToolUsageStarted:   {named("Tool", toolName), toolAttrs},
	engine.EventToolUsageFinished:  {named("Tool Completed", toolName), toolAttrs},
	engine.EventToolExecutionError: {named("Tool Error", toolName), withError(toolAttrs)},

	engine.EventMemorySaveStarted:        {fixed("Memory Save Started"), emptyAttrs},
	engine.EventMemorySaveCompleted:      {fixed("Memory Save Completed"), emptyAttrs},
	engine.EventMemorySaveFailed:         {fixed("Memory Save Failed"), withError(emptyAttrs)},
	engine.EventMemoryRetrievalStarted:   {fixed("Memory Retrieval Started"), emptyAttrs},
	engine.EventMemoryRetrievalCompleted: {fixed("Memory Retrieval Completed"), emptyAttrs},
	engine.EventMemoryQueryStarted:       {fixed("Memory Query Started"), emptyAttrs},
	engine.EventMemoryQueryCompleted:     {fixed("Memory Query Completed"), emptyAttrs},
	engine.EventMemoryQueryFailed:        {fixed("Memory Query Failed"), withError(emptyAttrs)},

	engine.EventKnowledgeQueryStarted:       {fixed("Knowledge Query Started"), emptyAttrs},
	engine.EventKnowledgeQueryCompleted:     {fixed("Knowledge Query Completed"), emptyAttrs},
	engine.EventKnowledgeQueryFailed:        {fixed("Knowledge Query Failed"), withError(emptyAttrs)},
	engine.EventKnowledgeRetrievalStarted:   {fixed("Knowledge Retrieval Started"), emptyAttrs},
	engine.EventKnowledgeRetrievalCompleted: {fixed("Knowledge Retrieval Completed"), emptyAttrs},

	engine.EventAgentReasoningStarted:   {named("Agent Reasoning", agentRole), agentAttrs},
	engine.EventAgentReasoningCompleted: {named("Agent Reasoning Completed", agentRole), agentAttrs},
	engine.EventAgentReasoningFailed:    {named("Agent Reasoning Failed", agentRole), withError(agentAttrs)},

	engine.EventAgentEvaluationStarted:   {named("Agent Evaluation", agentRole), agentAttrs},
	engine.EventAgentEvaluationCompleted: {named("Agent Evaluation Completed", agentRole), agentAttrs},
	engine.EventAgentEvaluationFailed:    {named("Agent Evaluation Failed", agentRole), withError(agentAttrs)},

	engine.EventLiteAgentExecutionStarted:   {named("Lite Agent", agentRole), agentAttrs},
	engine.EventLiteAgentExecutionCompleted: {named("Lite Agent Completed", agentRole), agentAttrs},
	engine.EventLiteAgentExecutionError:     {named("Lite Agent Error", agentRole), withError(agentAttrs)},

	engine.EventLLMGuardrailStarted:   {fixed("LLM Guardrail Started"), emptyAttrs},
	engine.EventLLMGuardrailCompleted: {fixed("LLM Guardrail Completed"), emptyAttrs},

	engine.EventAgentLogsStarted:   {named("Agent Logs", agentRole), agentAttrs},
	engine.EventAgentLogsExecution: {named("Agent Logs Execution", agentRole), agentAttrs},
}
