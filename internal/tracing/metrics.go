package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector collects Prometheus-compatible metrics for flow execution
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	flowsTotal       metric.Int64Counter
	eventsTotal      metric.Int64Counter
	tasksTotal       metric.Int64Counter
	llmRequestsTotal metric.Int64Counter
	tokensTotal      metric.Int64Counter
	toolCallsTotal   metric.Int64Counter

	// Histograms
	flowDuration metric.Float64Histogram
	taskDuration metric.Float64Histogram
	llmLatency   metric.Float64Histogram

	// Gauges (using observable gauges)
	activeFlows   map[string]bool // Track active flow IDs
	activeFlowsMu sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("bookflow")

	mc := &MetricsCollector{
		meter:       meter,
		activeFlows: make(map[string]bool),
	}

	var err error

	// Initialize counters
	mc.flowsTotal, err = meter.Int64Counter(
		"bookflow_flows_total",
		metric.WithDescription("Total number of flow executions"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, err
	}

	mc.eventsTotal, err = meter.Int64Counter(
		"bookflow_events_total",
		metric.WithDescription("Total number of lifecycle events observed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	mc.tasksTotal, err = meter.Int64Counter(
		"bookflow_tasks_total",
		metric.WithDescription("Total number of tasks executed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	mc.llmRequestsTotal, err = meter.Int64Counter(
		"bookflow_llm_requests_total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	mc.tokensTotal, err = meter.Int64Counter(
		"bookflow_tokens_total",
		metric.WithDescription("Total number of tokens processed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	mc.toolCallsTotal, err = meter.Int64Counter(
		"bookflow_tool_calls_total",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	// Initialize histograms
	mc.flowDuration, err = meter.Float64Histogram(
		"bookflow_flow_duration_seconds",
		metric.WithDescription("Flow execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.taskDuration, err = meter.Float64Histogram(
		"bookflow_task_duration_seconds",
		metric.WithDescription("Task execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.llmLatency, err = meter.Float64Histogram(
		"bookflow_llm_latency_seconds",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	// Initialize observable gauges
	_, err = meter.Int64ObservableGauge(
		"bookflow_active_flows",
		metric.WithDescription("Number of currently active flow executions"),
		metric.WithUnit("{flow}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.activeFlowsMu.RLock()
			count := len(mc.activeFlows)
			mc.activeFlowsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordFlowStart records the start of a flow execution
func (mc *MetricsCollector) RecordFlowStart(ctx context.Context, flowID string) {
	mc.activeFlowsMu.Lock()
	mc.activeFlows[flowID] = true
	mc.activeFlowsMu.Unlock()
}

// RecordFlowComplete records the completion of a flow execution
func (mc *MetricsCollector) RecordFlowComplete(ctx context.Context, flowID, flowName, status string, duration time.Duration) {
	mc.activeFlowsMu.Lock()
	delete(mc.activeFlows, flowID)
	mc.activeFlowsMu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String("flow", flowName),
		attribute.String("status", status),
	}

	mc.flowsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.flowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEvent records one lifecycle event observed by the listener
func (mc *MetricsCollector) RecordEvent(ctx context.Context, eventType string) {
	mc.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordTaskComplete records the completion of a task
func (mc *MetricsCollector) RecordTaskComplete(ctx context.Context, taskName, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("task", taskName),
		attribute.String("status", status),
	}

	mc.tasksTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLLMRequest records an LLM request completion
func (mc *MetricsCollector) RecordLLMRequest(ctx context.Context, provider, model, status string, promptTokens, completionTokens int, latency time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	}

	mc.llmRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.llmLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))

	// Record tokens
	if promptTokens > 0 {
		tokenAttrs := append(attrs, attribute.String("type", "prompt"))
		mc.tokensTotal.Add(ctx, int64(promptTokens), metric.WithAttributes(tokenAttrs...))
	}
	if completionTokens > 0 {
		tokenAttrs := append(attrs, attribute.String("type", "completion"))
		mc.tokensTotal.Add(ctx, int64(completionTokens), metric.WithAttributes(tokenAttrs...))
	}
}

// RecordToolCall records a tool invocation
func (mc *MetricsCollector) RecordToolCall(ctx context.Context, toolName, status string) {
	mc.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("status", status),
	))
}
