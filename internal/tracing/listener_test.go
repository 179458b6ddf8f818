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
	"sync"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/bookflow/pkg/engine"
)

func newTestListener(t *testing.T, opts ...ListenerOption) (*engine.Bus, *tracetest.InMemoryExporter, *RootTracker) {
	t.Helper()
	factory, exporter := newTestFactory(t)
	tracker := NewRootTracker(factory, nil)
	listener := NewListener(factory, tracker, opts...)

	bus := engine.NewBus()
	listener.Register(bus)
	t.Cleanup(listener.Unregister)
	return bus, exporter, tracker
}

func TestListenerFlowRootLifecycle(t *testing.T) {
	bus, exporter, tracker := newTestListener(t)
	ctx := context.Background()

	bus.Emit(ctx, engine.Event{Type: engine.EventFlowStarted, FlowName: "Book of Mills"})
	if !tracker.Active() {
		t.Fatal("no root after flow start")
	}

	bus.Emit(ctx, engine.Event{Type: engine.EventFlowFinished, FlowName: "Book of Mills", Result: "out/book.md"})
	if tracker.Active() {
		t.Fatal("root still active after flow finish")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	root := spans[0]
	if root.Name != "Flow Execution: Book of Mills" {
		t.Errorf("root name = %q", root.Name)
	}
	if v, ok := findAttr(root, "flow.result"); !ok || v.AsString() != "out/book.md" {
		t.Errorf("flow.result = %v", v)
	}
}

func TestListenerParentsEventsToRoot(t *testing.T) {
	bus, exporter, _ := newTestListener(t)
	ctx := context.Background()

	bus.Emit(ctx, engine.Event{Type: engine.EventFlowStarted, FlowName: "Book"})
	bus.Emit(ctx, engine.Event{Type: engine.EventLLMCallStarted, Model: "gpt-4o"})
	bus.Emit(ctx, engine.Event{Type: engine.EventFlowFinished})

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d", len(spans))
	}

	// Markers export on End, before the root does.
	marker, root := spans[0], spans[1]
	if marker.Name != "LLM Call: gpt-4o" {
		t.Errorf("marker name = %q", marker.Name)
	}
	if !marker.Parent.IsValid() {
		t.Fatal("marker has no parent")
	}
	if marker.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("marker not parented to the flow root")
	}
	if marker.SpanContext.TraceID() != root.SpanContext.TraceID() {
		t.Error("marker landed in a different trace")
	}
}

func TestListenerConcurrentEventsShareRoot(t *testing.T) {
	bus, exporter, _ := newTestListener(t)
	ctx := context.Background()

	bus.Emit(ctx, engine.Event{Type: engine.EventFlowStarted, FlowName: "Book"})

	// Concurrent chapter crews emit task events from their own
	// goroutines; every one of them must land under the single root.
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			src := describedSource{fmt.Sprintf("chapter %d", n)}
			bus.Emit(ctx, engine.Event{Type: engine.EventTaskStarted, Source: src})
			bus.Emit(ctx, engine.Event{Type: engine.EventTaskCompleted, Source: src})
		}(i)
	}
	wg.Wait()
	bus.Emit(ctx, engine.Event{Type: engine.EventFlowFinished, FlowName: "Book"})

	spans := exporter.GetSpans()
	if len(spans) != 2*writers+1 {
		t.Fatalf("spans = %d, want %d", len(spans), 2*writers+1)
	}
	root := spans[len(spans)-1]
	if root.Name != "Flow Execution: Book" {
		t.Fatalf("last exported span = %q, want the flow root", root.Name)
	}
	for _, s := range spans[:len(spans)-1] {
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("span %q not parented to the flow root", s.Name)
		}
		if s.SpanContext.TraceID() != root.SpanContext.TraceID() {
			t.Errorf("span %q landed in a different trace", s.Name)
		}
	}
}

func TestListenerFailedFlowClosesRootWithError(t *testing.T) {
	bus, exporter, tracker := newTestListener(t)
	ctx := context.Background()

	bus.Emit(ctx, engine.Event{Type: engine.EventFlowStarted, FlowName: "Book"})
	bus.Emit(ctx, engine.Event{Type: engine.EventFlowFinished, FlowName: "Book", Error: "step boom failed"})

	if tracker.Active() {
		t.Fatal("root still active after failed finish")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	root := spans[0]
	if root.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", root.Status.Code)
	}
	if root.Status.Description != "step boom failed" {
		t.Errorf("status description = %q", root.Status.Description)
	}
	if v, ok := findAttr(root, "error.message"); !ok || v.AsString() != "step boom failed" {
		t.Errorf("error.message = %v", v)
	}
}

func TestListenerFeedsMetricsCollector(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	collector, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("NewMetricsCollector() error = %v", err)
	}

	bus, _, _ := newTestListener(t, WithListenerMetrics(collector))
	ctx := context.Background()

	src := describedSource{"draft the chapter"}
	bus.Emit(ctx, engine.Event{Type: engine.EventFlowStarted, FlowName: "Book"})
	bus.Emit(ctx, engine.Event{Type: engine.EventTaskStarted, Source: src})
	bus.Emit(ctx, engine.Event{Type: engine.EventTaskCompleted, Source: src})
	bus.Emit(ctx, engine.Event{Type: engine.EventToolUsageFinished, ToolName: "word_count"})
	bus.Emit(ctx, engine.Event{Type: engine.EventFlowFinished, FlowName: "Book"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	wantCounts := map[string]int64{
		"bookflow_flows_total":      1,
		"bookflow_tasks_total":      1,
		"bookflow_tool_calls_total": 1,
		"bookflow_events_total":     5,
	}
	for name, want := range wantCounts {
		if got := counterSum(t, rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

// counterSum totals every data point of the named int64 counter.
func counterSum(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestListenerOrphanEventStartsOwnTrace(t *testing.T) {
	bus, exporter, _ := newTestListener(t)

	bus.Emit(context.Background(), engine.Event{Type: engine.EventToolUsageStarted, ToolName: "word_count"})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Parent.IsValid() {
		t.Error("orphan event span should have no parent")
	}
	if spans[0].Name != "Tool: word_count" {
		t.Errorf("name = %q", spans[0].Name)
	}
}

func TestListenerPlaceholdersForMissingSubjects(t *testing.T) {
	bus, exporter, _ := newTestListener(t)
	ctx := context.Background()

	bus.Emit(ctx, engine.Event{Type: engine.EventTaskStarted})
	bus.Emit(ctx, engine.Event{Type: engine.EventLLMCallStarted})
	bus.Emit(ctx, engine.Event{Type: engine.EventAgentExecutionStarted})
	bus.Emit(ctx, engine.Event{Type: engine.EventToolExecutionError})

	want := []string{
		"Task: Unknown Task",
		"LLM Call: Unknown Model",
		"Agent: Unknown Agent",
		"Tool Error: Unknown Tool",
	}
	spans := exporter.GetSpans()
	if len(spans) != len(want) {
		t.Fatalf("spans = %d", len(spans))
	}
	for i, name := range want {
		if spans[i].Name != name {
			t.Errorf("span[%d] = %q, want %q", i, spans[i].Name, name)
		}
	}

	// A failure event with no message still carries the placeholder.
	if v, ok := findAttr(spans[3], "error.message"); !ok || v.AsString() != "Unknown Error" {
		t.Errorf("error.message = %v", v)
	}
}

func TestListenerTruncatesTaskNames(t *testing.T) {
	bus, exporter, _ := newTestListener(t)

	long := "Write a chapter about the complete history of wind and water mills in Europe"
	bus.Emit(context.Background(), engine.Event{Type: engine.EventTaskStarted, Source: describedSource{long}})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	wantName := "Task: " + long[:50] + "..."
	if spans[0].Name != wantName {
		t.Errorf("name = %q, want %q", spans[0].Name, wantName)
	}
	// The attribute keeps the full description.
	if v, ok := findAttr(spans[0], "task.description"); !ok || v.AsString() != long {
		t.Errorf("task.description = %v", v)
	}
}

func TestListenerEventKindSubset(t *testing.T) {
	bus, exporter, tracker := newTestListener(t, WithEventKinds(engine.EventLLMCallStarted))
	ctx := context.Background()

	bus.Emit(ctx, engine.Event{Type: engine.EventFlowStarted, FlowName: "Book"})
	bus.Emit(ctx, engine.Event{Type: engine.EventLLMCallStarted, Model: "gpt-4o"})
	bus.Emit(ctx, engine.Event{Type: engine.EventTaskStarted})
	bus.Emit(ctx, engine.Event{Type: engine.EventFlowFinished})

	if tracker.Active() {
		t.Error("flow bookkeeping must work even with a kind subset")
	}
	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want LLM marker plus root only", len(spans))
	}
	if spans[0].Name != "LLM Call: gpt-4o" {
		t.Errorf("span = %q", spans[0].Name)
	}
}

func TestListenerUnregisterStopsSpans(t *testing.T) {
	factory, exporter := newTestFactory(t)
	tracker := NewRootTracker(factory, nil)
	listener := NewListener(factory, tracker)

	bus := engine.NewBus()
	listener.Register(bus)
	listener.Unregister()

	bus.Emit(context.Background(), engine.Event{Type: engine.EventTaskStarted})
	if len(exporter.GetSpans()) != 0 {
		t.Error("unregistered listener still produced spans")
	}
	if bus.HandlerCount(engine.EventFlowStarted) != 0 {
		t.Error("flow handler still subscribed")
	}
}

type describedSource struct {
	desc string
}

func (d describedSource) Description() string { return d.desc }
