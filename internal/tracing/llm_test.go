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
	"testing"

	"go.opentelemetry.io/otel/codes"

	"github.com/tombee/bookflow/pkg/llm"
)

type fakeProvider struct {
	resp   *llm.CompletionResponse
	chunks []llm.StreamChunk
	err    error
}

func (p *fakeProvider) Name() string                   { return "fake" }
func (p *fakeProvider) Capabilities() llm.Capabilities { return llm.Capabilities{Streaming: true} }

func (p *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return p.resp, p.err
}

func (p *fakeProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan llm.StreamChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestTracedProviderComplete(t *testing.T) {
	factory, exporter := newTestFactory(t)
	provider := WrapProvider(&fakeProvider{
		resp: &llm.CompletionResponse{
			Content:      "answer",
			Model:        "gpt-4o",
			FinishReason: llm.FinishReasonStop,
			Usage:        llm.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
	}, factory)

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "answer" {
		t.Errorf("Content = %q", resp.Content)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	span := spans[0]
	if span.Name != "llm.complete" {
		t.Errorf("name = %q", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Errorf("status = %v", span.Status.Code)
	}
	if v, ok := findAttr(span, "llm.usage.total_tokens"); !ok || v.AsInt64() != 15 {
		t.Errorf("total_tokens = %v", v)
	}
	if v, ok := findAttr(span, "llm.provider"); !ok || v.AsString() != "fake" {
		t.Errorf("llm.provider = %v", v)
	}
}

func TestTracedProviderCompleteError(t *testing.T) {
	factory, exporter := newTestFactory(t)
	wantErr := fmt.Errorf("rate limited")
	provider := WrapProvider(&fakeProvider{err: wantErr}, factory)

	if _, err := provider.Complete(context.Background(), llm.CompletionRequest{Model: "gpt-4o"}); err != wantErr {
		t.Fatalf("error = %v, want the provider's error unchanged", err)
	}

	spans := exporter.GetSpans()
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "rate limited" {
		t.Errorf("status = %v %q", spans[0].Status.Code, spans[0].Status.Description)
	}
}

func TestTracedProviderStream(t *testing.T) {
	factory, exporter := newTestFactory(t)
	provider := WrapProvider(&fakeProvider{
		chunks: []llm.StreamChunk{
			{Delta: llm.StreamDelta{Content: "hel"}},
			{Delta: llm.StreamDelta{Content: "lo"}},
			{
				FinishReason: llm.FinishReasonStop,
				Usage:        &llm.TokenUsage{InputTokens: 4, OutputTokens: 2, TotalTokens: 6},
			},
		},
	}, factory)

	chunks, err := provider.Stream(context.Background(), llm.CompletionRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var content string
	for chunk := range chunks {
		content += chunk.Delta.Content
	}
	if content != "hello" {
		t.Errorf("streamed content = %q", content)
	}

	// The span ends only after the channel drains.
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	span := spans[0]
	if span.Name != "llm.stream" {
		t.Errorf("name = %q", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Errorf("status = %v", span.Status.Code)
	}
	if v, ok := findAttr(span, "llm.usage.total_tokens"); !ok || v.AsInt64() != 6 {
		t.Errorf("total_tokens = %v", v)
	}
	if v, ok := findAttr(span, "llm.response.content_length"); !ok || v.AsInt64() != 5 {
		t.Errorf("content_length = %v", v)
	}
}

func TestTracedProviderStreamError(t *testing.T) {
	factory, exporter := newTestFactory(t)
	wantErr := fmt.Errorf("connection reset")
	provider := WrapProvider(&fakeProvider{err: wantErr}, factory)

	if _, err := provider.Stream(context.Background(), llm.CompletionRequest{Model: "gpt-4o"}); err != wantErr {
		t.Fatalf("error = %v, want the provider's error unchanged", err)
	}
	if spans := exporter.GetSpans(); spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v", spans[0].Status.Code)
	}
}

func TestTracedProviderPassthroughSurfaces(t *testing.T) {
	factory, _ := newTestFactory(t)
	provider := WrapProvider(&fakeProvider{}, factory)

	if provider.Name() != "fake" {
		t.Errorf("Name() = %q", provider.Name())
	}
	if !provider.Capabilities().Streaming {
		t.Error("Capabilities() not forwarded")
	}
}
