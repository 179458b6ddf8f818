package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestFlowRunsStepsInDependencyOrder(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	flow, err := NewFlow(FlowConfig{
		Name: "ordered",
		Bus:  bus,
		Steps: []Step{
			{Name: "first", Run: func(ctx context.Context, f *Flow) (any, error) {
				record("first")
				return "a", nil
			}},
			{Name: "second", After: []string{"first"}, Run: func(ctx context.Context, f *Flow) (any, error) {
				record("second")
				return "b", nil
			}},
			{Name: "third", After: []string{"second"}, Run: func(ctx context.Context, f *Flow) (any, error) {
				record("third")
				return "c", nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	result, err := flow.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}
	if result != "c" {
		t.Errorf("Kickoff() result = %v, want last step output", result)
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("steps ran as %v", order)
	}
}

func TestFlowRunsIndependentStepsConcurrently(t *testing.T) {
	bus := NewBus()

	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)

	parallel := func(ctx context.Context, f *Flow) (any, error) {
		arrived.Done()
		select {
		case <-release:
			return nil, nil
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("peer step never started")
		}
	}

	flow, err := NewFlow(FlowConfig{
		Name: "parallel",
		Bus:  bus,
		Steps: []Step{
			{Name: "left", Run: parallel},
			{Name: "right", Run: parallel},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	go func() {
		// Both steps must be in flight at once before either
		// finishes.
		arrived.Wait()
		close(release)
	}()

	if _, err := flow.Kickoff(context.Background()); err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}
}

func TestFlowConditionSkipsStep(t *testing.T) {
	bus := NewBus()

	ran := map[string]bool{}
	flow, err := NewFlow(FlowConfig{
		Name:  "conditional",
		Bus:   bus,
		State: map[string]any{"chapters": 0},
		Steps: []Step{
			{Name: "plan", Run: func(ctx context.Context, f *Flow) (any, error) {
				ran["plan"] = true
				return 2, nil
			}},
			{
				Name:      "write",
				After:     []string{"plan"},
				Condition: `results["plan"] > 10`,
				Run: func(ctx context.Context, f *Flow) (any, error) {
					ran["write"] = true
					return nil, nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if _, err := flow.Kickoff(context.Background()); err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}
	if !ran["plan"] {
		t.Error("plan step did not run")
	}
	if ran["write"] {
		t.Error("write step ran despite false condition")
	}
}

func TestFlowStepFailureStopsFlow(t *testing.T) {
	bus := NewBus()

	var failedEvents []Event
	bus.On(EventMethodExecutionFailed, func(ctx context.Context, e Event) {
		failedEvents = append(failedEvents, e)
	})

	flow, err := NewFlow(FlowConfig{
		Name: "failing",
		Bus:  bus,
		Steps: []Step{
			{Name: "boom", Run: func(ctx context.Context, f *Flow) (any, error) {
				return nil, fmt.Errorf("step exploded")
			}},
			{Name: "never", After: []string{"boom"}, Run: func(ctx context.Context, f *Flow) (any, error) {
				t.Error("dependent step ran after failure")
				return nil, nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if _, err := flow.Kickoff(context.Background()); err == nil {
		t.Fatal("expected Kickoff to fail")
	}
	if len(failedEvents) != 1 || failedEvents[0].MethodName != "boom" {
		t.Errorf("failed events = %+v", failedEvents)
	}
}

func TestFlowFailureEmitsFlowFinished(t *testing.T) {
	bus := NewBus()

	var finished []Event
	bus.On(EventFlowFinished, func(ctx context.Context, e Event) {
		finished = append(finished, e)
	})

	flow, err := NewFlow(FlowConfig{
		Name: "doomed",
		Bus:  bus,
		Steps: []Step{
			{Name: "boom", Run: func(ctx context.Context, f *Flow) (any, error) {
				return nil, fmt.Errorf("step exploded")
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if _, err := flow.Kickoff(context.Background()); err == nil {
		t.Fatal("expected Kickoff to fail")
	}
	if len(finished) != 1 {
		t.Fatalf("flow finished events = %d, want 1", len(finished))
	}
	if finished[0].Error == "" {
		t.Error("finished event carries no error")
	}
	if finished[0].FlowName != "doomed" {
		t.Errorf("finished event flow = %q", finished[0].FlowName)
	}
}

func TestFlowValidation(t *testing.T) {
	bus := NewBus()
	noop := func(ctx context.Context, f *Flow) (any, error) { return nil, nil }

	tests := []struct {
		name  string
		steps []Step
	}{
		{"duplicate names", []Step{{Name: "a", Run: noop}, {Name: "a", Run: noop}}},
		{"unknown dependency", []Step{{Name: "a", After: []string{"ghost"}, Run: noop}}},
		{"missing run", []Step{{Name: "a"}}},
		{"no steps", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFlow(FlowConfig{Name: "bad", Bus: bus, Steps: tt.steps}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFlowEmitsLifecycleEvents(t *testing.T) {
	bus := NewBus()

	var events []EventType
	for _, et := range []EventType{
		EventFlowStarted,
		EventMethodExecutionStarted,
		EventMethodExecutionFinished,
		EventFlowFinished,
	} {
		et := et
		bus.On(et, func(ctx context.Context, e Event) {
			events = append(events, e.Type)
		})
	}

	flow, err := NewFlow(FlowConfig{
		Name: "traced",
		Bus:  bus,
		Steps: []Step{
			{Name: "only", Run: func(ctx context.Context, f *Flow) (any, error) {
				return "done", nil
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}
	if _, err := flow.Kickoff(context.Background()); err != nil {
		t.Fatalf("Kickoff() error = %v", err)
	}

	want := []EventType{
		EventFlowStarted,
		EventMethodExecutionStarted,
		EventMethodExecutionFinished,
		EventFlowFinished,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestFlowKindAndID(t *testing.T) {
	bus := NewBus()
	flow, err := NewFlow(FlowConfig{
		Name: "book of mills",
		Kind: "BookFlow",
		Bus:  bus,
		Steps: []Step{
			{Name: "only", Run: func(ctx context.Context, f *Flow) (any, error) { return nil, nil }},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}

	if flow.Kind() != "BookFlow" {
		t.Errorf("Kind() = %q", flow.Kind())
	}
	if flow.ID() == "" {
		t.Error("ID() is empty")
	}
}
