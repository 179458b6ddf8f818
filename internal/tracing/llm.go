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

	"github.com/tombee/bookflow/pkg/llm"
)

// TracedProvider wraps an LLM provider so every Complete and Stream
// call produces a client span with token usage attributes. Streaming
// spans stay open until the chunk channel drains, so the span covers
// the asynchronous continuation rather than just the initial call.
type TracedProvider struct {
	provider llm.Provider
	factory  *SpanFactory
	metrics  *MetricsCollector
}

// WrapProvider wraps an LLM provider with tracing instrumentation.
func WrapProvider(provider llm.Provider, factory *SpanFactory) llm.Provider {
	return &TracedProvider{provider: provider, factory: factory}
}

// WrapProviderWithMetrics wraps an LLM provider with tracing and metrics.
func WrapProviderWithMetrics(provider llm.Provider, factory *SpanFactory, metrics *MetricsCollector) llm.Provider {
	return &TracedProvider{provider: provider, factory: factory, metrics: metrics}
}

// Name returns the underlying provider's name.
func (t *TracedProvider) Name() string {
	return t.provider.Name()
}

// Capabilities returns the underlying provider's capabilities.
func (t *TracedProvider) Capabilities() llm.Capabilities {
	return t.provider.Capabilities()
}

func (t *TracedProvider) requestAttrs(req llm.CompletionRequest) map[string]any {
	attrs := map[string]any{
		"llm.provider": t.provider.Name(),
		"llm.model":    req.Model,
	}
	if req.Temperature != nil {
		attrs["llm.temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		attrs["llm.max_tokens"] = *req.MaxTokens
	}
	for k, v := range req.Metadata {
		attrs[fmt.Sprintf("llm.metadata.%s", k)] = v
	}
	return attrs
}

// Complete traces a completion round-trip and records token usage.
func (t *TracedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	ctx, span := t.factory.tracer.Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(filterAttributes(t.requestAttrs(req))...),
	)
	defer span.End()

	resp, err := t.provider.Complete(ctx, req)
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if t.metrics != nil {
			t.metrics.RecordLLMRequest(ctx, t.provider.Name(), req.Model, "error", 0, 0, latency)
		}
		return nil, err
	}

	// Fall back to the provider's cached usage when the response body
	// did not carry any.
	if resp.Usage.TotalTokens == 0 {
		if trackable, ok := t.provider.(llm.UsageTrackable); ok {
			if last := trackable.GetLastUsage(); last != nil {
				resp.Usage = *last
			}
		}
	}

	span.SetAttributes(
		attribute.String("llm.response.model", resp.Model),
		attribute.String("llm.response.finish_reason", string(resp.FinishReason)),
		attribute.String("llm.response.request_id", resp.RequestID),
		attribute.Int("llm.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
		attribute.Int("llm.response.tool_calls_count", len(resp.ToolCalls)),
		attribute.Int("llm.response.content_length", len(resp.Content)),
	)

	if t.metrics != nil {
		t.metrics.RecordLLMRequest(ctx, t.provider.Name(), resp.Model, "success",
			resp.Usage.InputTokens, resp.Usage.OutputTokens, latency)
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// Stream traces a streaming request. The span ends when the provider
// closes the chunk channel, capturing usage from the final chunk.
func (t *TracedProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()

	ctx, span := t.factory.tracer.Start(ctx, "llm.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(filterAttributes(t.requestAttrs(req))...),
	)

	chunks, err := t.provider.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		if t.metrics != nil {
			t.metrics.RecordLLMRequest(ctx, t.provider.Name(), req.Model, "error", 0, 0, time.Since(start))
		}
		return nil, err
	}

	intercepted := make(chan llm.StreamChunk)

	go func() {
		defer close(intercepted)
		defer span.End()

		var contentLength, toolCallsCount int

		for chunk := range chunks {
			intercepted <- chunk

			contentLength += len(chunk.Delta.Content)
			if chunk.Delta.ToolCallDelta != nil {
				toolCallsCount++
			}

			if chunk.Error != nil {
				span.RecordError(chunk.Error)
				span.SetStatus(codes.Error, chunk.Error.Error())
				if t.metrics != nil {
					t.metrics.RecordLLMRequest(ctx, t.provider.Name(), req.Model, "error", 0, 0, time.Since(start))
				}
				return
			}

			if chunk.Usage != nil {
				usage := *chunk.Usage
				if usage.TotalTokens == 0 {
					if trackable, ok := t.provider.(llm.UsageTrackable); ok {
						if last := trackable.GetLastUsage(); last != nil {
							usage = *last
						}
					}
				}

				span.SetAttributes(
					attribute.String("llm.response.finish_reason", string(chunk.FinishReason)),
					attribute.String("llm.response.request_id", chunk.RequestID),
					attribute.Int("llm.usage.input_tokens", usage.InputTokens),
					attribute.Int("llm.usage.output_tokens", usage.OutputTokens),
					attribute.Int("llm.usage.total_tokens", usage.TotalTokens),
					attribute.Int("llm.response.tool_calls_count", toolCallsCount),
					attribute.Int("llm.response.content_length", contentLength),
				)

				if t.metrics != nil {
					t.metrics.RecordLLMRequest(ctx, t.provider.Name(), req.Model, "success",
						usage.InputTokens, usage.OutputTokens, time.Since(start))
				}

				span.SetStatus(codes.Ok, "")
			}
		}
	}()

	return intercepted, nil
}
