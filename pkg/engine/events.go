package engine

import (
	"time"
)

// EventType identifies a lifecycle event emitted by the engine.
// The names follow the snake_case vocabulary that downstream listeners
// attach to spans as the event.type attribute.
type EventType string

// Flow lifecycle events. FlowStarted and FlowFinished bracket one full
// flow execution; everything else fires in between.
const (
	EventFlowStarted  EventType = "flow_started"
	EventFlowFinished EventType = "flow_finished"
)

// Flow method execution events, one pair (or Started/Failed) per step.
const (
	EventMethodExecutionStarted  EventType = "method_execution_started"
	EventMethodExecutionFinished EventType = "method_execution_finished"
	EventMethodExecutionFailed   EventType = "method_execution_failed"
)

// Crew lifecycle events.
const (
	EventCrewKickoffStarted   EventType = "crew_kickoff_started"
	EventCrewKickoffCompleted EventType = "crew_kickoff_completed"
	EventCrewKickoffFailed    EventType = "crew_kickoff_failed"
)

// Task lifecycle events.
const (
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
)

// Agent execution events.
const (
	EventAgentExecutionStarted   EventType = "agent_execution_started"
	EventAgentExecutionCompleted EventType = "agent_execution_completed"
	EventAgentExecutionError     EventType = "agent_execution_error"
)

// LLM call events, one family per provider round-trip.
const (
	EventLLMCallStarted   EventType = "llm_call_started"
	EventLLMCallCompleted EventType = "llm_call_completed"
	EventLLMCallFailed    EventType = "llm_call_failed"
)

// Tool usage events.
const (
	EventToolUsageStarted   EventType = "tool_usage_started"
	EventToolUsageFinished  EventType = "tool_usage_finished"
	EventToolExecutionError EventType = "tool_execution_error"
)

// Memory events cover save, retrieval and query lifecycles.
// Retrieval has no failure variant; a miss is an empty result.
const (
	EventMemorySaveStarted        EventType = "memory_save_started"
	EventMemorySaveCompleted      EventType = "memory_save_completed"
	EventMemorySaveFailed         EventType = "memory_save_failed"
	EventMemoryRetrievalStarted   EventType = "memory_retrieval_started"
	EventMemoryRetrievalCompleted EventType = "memory_retrieval_completed"
	EventMemoryQueryStarted       EventType = "memory_query_started"
	EventMemoryQueryCompleted     EventType = "memory_query_completed"
	EventMemoryQueryFailed        EventType = "memory_query_failed"
)

// Knowledge events.
const (
	EventKnowledgeQueryStarted       EventType = "knowledge_query_started"
	EventKnowledgeQueryCompleted     EventType = "knowledge_query_completed"
	EventKnowledgeQueryFailed        EventType = "knowledge_query_failed"
	EventKnowledgeRetrievalStarted   EventType = "knowledge_retrieval_started"
	EventKnowledgeRetrievalCompleted EventType = "knowledge_retrieval_completed"
)

// Agent reasoning events.
const (
	EventAgentReasoningStarted   EventType = "agent_reasoning_started"
	EventAgentReasoningCompleted EventType = "agent_reasoning_completed"
	EventAgentReasoningFailed    EventType = "agent_reasoning_failed"
)

// Agent evaluation events.
const (
	EventAgentEvaluationStarted   EventType = "agent_evaluation_started"
	EventAgentEvaluationCompleted EventType = "agent_evaluation_completed"
	EventAgentEvaluationFailed    EventType = "agent_evaluation_failed"
)

// Lite agent execution events. Lite agents are single-shot agents that run
// outside a crew.
const (
	EventLiteAgentExecutionStarted   EventType = "lite_agent_execution_started"
	EventLiteAgentExecutionCompleted EventType = "lite_agent_execution_completed"
	EventLiteAgentExecutionError     EventType = "lite_agent_execution_error"
)

// Guardrail events bracket output validation of a task result.
const (
	EventLLMGuardrailStarted   EventType = "llm_guardrail_started"
	EventLLMGuardrailCompleted EventType = "llm_guardrail_completed"
)

// Agent log events, emitted when verbose agent logging is enabled.
const (
	EventAgentLogsStarted   EventType = "agent_logs_started"
	EventAgentLogsExecution EventType = "agent_logs_execution"
)

// Event is a lifecycle notification delivered to bus handlers. Source is the
// emitting object (a *Flow, *Crew, *Task, *Agent or *LiteAgent); the remaining
// fields are kind-specific and zero-valued when they do not apply. Events are
// consumed transiently by handlers and never stored by the bus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Source    any

	// FlowName is set on flow and method events.
	FlowName string

	// MethodName is set on method execution events.
	MethodName string

	// Model is set on LLM call events.
	Model string

	// ToolName is set on tool usage events.
	ToolName string

	// Result carries a string rendering of the output on terminal
	// success events (flow finish, method finish, task completed).
	Result string

	// Query is set on memory and knowledge query events.
	Query string

	// Error carries the failure message on *Failed and *Error events.
	Error string
}

// Named is implemented by sources that expose a display name (flows, crews).
type Named interface {
	Name() string
}

// Kinded is implemented by sources that expose a concrete kind, such as
// a flow reporting its specialized type name.
type Kinded interface {
	Kind() string
}

// Described is implemented by sources that expose a description (tasks).
type Described interface {
	Description() string
}

// RolePlayer is implemented by sources that expose an agent role.
type RolePlayer interface {
	Role() string
}
