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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxSpanNameLen bounds the variable part of span names so that long
// task descriptions and prompts do not blow up exporter UIs.
const maxSpanNameLen = 50

// TruncateName shortens s to maxSpanNameLen bytes, appending "..."
// only when something was actually cut.
func TruncateName(s string) string {
	if len(s) > maxSpanNameLen {
		return s[:maxSpanNameLen] + "..."
	}
	return s
}

// SpanFactory creates spans with uniform attribute handling. All spans
// produced by the listener and the traced wrappers go through it.
type SpanFactory struct {
	tracer trace.Tracer
}

// NewSpanFactory returns a factory bound to the given tracer.
func NewSpanFactory(tracer trace.Tracer) *SpanFactory {
	return &SpanFactory{tracer: tracer}
}

// StartSpan opens a span with the given name and attributes. Zero-value
// attributes are dropped before the span sees them. The caller owns the
// returned span and must End it.
func (f *SpanFactory) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, trace.Span) {
	return f.tracer.Start(ctx, name, trace.WithAttributes(filterAttributes(attrs)...))
}

// Marker opens a span and ends it immediately, producing a point-in-time
// record of an event that has no measurable duration of its own.
func (f *SpanFactory) Marker(ctx context.Context, name string, attrs map[string]any) {
	_, span := f.StartSpan(ctx, name, attrs)
	span.End()
}

// WithSpan runs fn inside a span, recording the error and setting span
// status from the outcome. The error is returned unchanged.
func (f *SpanFactory) WithSpan(ctx context.Context, name string, attrs map[string]any, fn func(context.Context) error) error {
	ctx, span := f.StartSpan(ctx, name, attrs)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// filterAttributes converts a loose attribute map to OTel key-values,
// dropping entries whose value is the zero value for its type. Empty
// strings, zero numbers, false booleans and nils never reach a span.
func filterAttributes(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		if kv, ok := toAttribute(k, v); ok {
			kvs = append(kvs, kv)
		}
	}
	return kvs
}

// toAttribute converts a single value, reporting false for values the
// truthiness filter rejects.
func toAttribute(k string, v any) (attribute.KeyValue, bool) {
	switch val := v.(type) {
	case nil:
		return attribute.KeyValue{}, false
	case string:
		if val == "" {
			return attribute.KeyValue{}, false
		}
		return attribute.String(k, val), true
	case bool:
		if !val {
			return attribute.KeyValue{}, false
		}
		return attribute.Bool(k, val), true
	case int:
		if val == 0 {
			return attribute.KeyValue{}, false
		}
		return attribute.Int(k, val), true
	case int64:
		if val == 0 {
			return attribute.KeyValue{}, false
		}
		return attribute.Int64(k, val), true
	case float64:
		if val == 0 {
			return attribute.KeyValue{}, false
		}
		return attribute.Float64(k, val), true
	case time.Duration:
		if val == 0 {
			return attribute.KeyValue{}, false
		}
		return attribute.Int64(k, val.Milliseconds()), true
	case []string:
		if len(val) == 0 {
			return attribute.KeyValue{}, false
		}
		return attribute.StringSlice(k, val), true
	case fmt.Stringer:
		s := val.String()
		if s == "" {
			return attribute.KeyValue{}, false
		}
		return attribute.String(k, s), true
	default:
		s := fmt.Sprintf("%v", v)
		if s == "" {
			return attribute.KeyValue{}, false
		}
		return attribute.String(k, s), true
	}
}
