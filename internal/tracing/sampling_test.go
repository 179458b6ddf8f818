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
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func samplingParams(attrs ...attribute.KeyValue) sdktrace.SamplingParameters {
	return sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0x01},
		Name:          "test span",
		Attributes:    attrs,
	}
}

func TestSamplerFullRate(t *testing.T) {
	s := NewSampler(1.0)
	res := s.ShouldSample(samplingParams())
	if res.Decision != sdktrace.RecordAndSample {
		t.Errorf("decision = %v", res.Decision)
	}
}

func TestSamplerZeroRateDropsCleanSpans(t *testing.T) {
	s := NewSampler(0.0)
	res := s.ShouldSample(samplingParams())
	if res.Decision == sdktrace.RecordAndSample {
		t.Errorf("clean span sampled at rate 0: %v", res.Decision)
	}
}

func TestSamplerAlwaysKeepsErrorSpans(t *testing.T) {
	s := NewSampler(0.0)

	res := s.ShouldSample(samplingParams(attribute.String("error.message", "it broke")))
	if res.Decision != sdktrace.RecordAndSample {
		t.Errorf("error.message span dropped: %v", res.Decision)
	}

	res = s.ShouldSample(samplingParams(attribute.Bool("error", true)))
	if res.Decision != sdktrace.RecordAndSample {
		t.Errorf("error=true span dropped: %v", res.Decision)
	}

	// An empty error message does not force sampling.
	res = s.ShouldSample(samplingParams(attribute.String("error.message", "")))
	if res.Decision == sdktrace.RecordAndSample {
		t.Errorf("empty error.message forced sampling: %v", res.Decision)
	}
}

func TestSamplerDescription(t *testing.T) {
	if NewSampler(0.5).Description() == "" {
		t.Error("empty description")
	}
}
