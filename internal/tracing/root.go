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
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RootTracker owns the root span of the currently running flow. The
// engine's events carry no context of their own, so the listener asks
// the tracker for the active root when parenting event spans.
//
// The tracker holds exactly one root slot. A second flow starting
// before the first finishes evicts the stale root, which is ended
// defensively so it is not lost from the export pipeline.
type RootTracker struct {
	factory *SpanFactory
	logger  *slog.Logger

	mu       sync.Mutex
	rootCtx  context.Context
	rootSpan trace.Span
}

// NewRootTracker returns a tracker creating roots through the factory.
func NewRootTracker(factory *SpanFactory, logger *slog.Logger) *RootTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RootTracker{factory: factory, logger: logger}
}

// Begin opens a new root span and installs it as the active root,
// ending any stale root left behind by an unfinished flow. The
// returned context carries the new root.
func (t *RootTracker) Begin(ctx context.Context, name string, attrs map[string]any) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootSpan != nil {
		t.logger.Debug("ending stale flow root", "replaced_by", name)
		t.rootSpan.SetStatus(codes.Error, "flow root replaced before finishing")
		t.rootSpan.End()
	}

	rootCtx, span := t.factory.StartSpan(ctx, name, attrs)
	t.rootCtx = rootCtx
	t.rootSpan = span
	return rootCtx
}

// Finish ends the active root span with the given terminal attributes
// and clears the slot. Finishing with no active root is a no-op; the
// finish event may belong to a flow whose root was already evicted.
func (t *RootTracker) Finish(attrs map[string]any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootSpan == nil {
		t.logger.Debug("flow finish with no active root")
		return
	}
	t.rootSpan.SetAttributes(filterAttributes(attrs)...)
	if err != nil {
		t.rootSpan.RecordError(err)
		t.rootSpan.SetStatus(codes.Error, err.Error())
	} else {
		t.rootSpan.SetStatus(codes.Ok, "")
	}
	t.rootSpan.End()
	t.rootCtx = nil
	t.rootSpan = nil
}

// Context returns the context carrying the active root, reporting
// false when no flow is running.
func (t *RootTracker) Context() (context.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rootCtx == nil {
		return nil, false
	}
	return t.rootCtx, true
}

// Active reports whether a flow root is currently open.
func (t *RootTracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootSpan != nil
}

// Span returns the active root span for direct attribute updates,
// reporting false when no flow is running.
func (t *RootTracker) Span() (trace.Span, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rootSpan == nil {
		return nil, false
	}
	return t.rootSpan, true
}
