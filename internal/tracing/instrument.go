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
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/bookflow/pkg/engine"
	"github.com/tombee/bookflow/pkg/llm"
)

const tracerName = "github.com/tombee/bookflow/internal/tracing"

// Instrumentor owns the tracing pipeline for one engine instance. It
// sets up (or reuses) the OpenTelemetry provider, attaches the listener
// to the event bus, and hands out traced wrappers for engine objects.
//
// Instrument is idempotent: calling it on an already-instrumented
// instance is a no-op. One Instrumentor traces one flow at a time; its
// RootTracker has a single root slot.
type Instrumentor struct {
	cfg    Config
	bus    *engine.Bus
	logger *slog.Logger

	mu           sync.Mutex
	instrumented bool
	ownsProvider bool

	sdkProvider   *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider
	metrics       *MetricsCollector
	metricsServer *http.Server

	factory  *SpanFactory
	roots    *RootTracker
	listener *Listener
}

// InstrumentorOption configures an Instrumentor.
type InstrumentorOption func(*Instrumentor)

// WithLogger overrides the instrumentor's logger.
func WithLogger(logger *slog.Logger) InstrumentorOption {
	return func(i *Instrumentor) { i.logger = logger }
}

// NewInstrumentor creates an instrumentor for the given bus. Nothing
// is installed until Instrument is called.
func NewInstrumentor(cfg Config, bus *engine.Bus, opts ...InstrumentorOption) *Instrumentor {
	i := &Instrumentor{
		cfg:    cfg,
		bus:    bus,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Instrument sets up the provider, metrics and listener. Exporter
// failures degrade to fewer exporters, never to an error: tracing is
// best-effort by contract. Returns an error only for configuration the
// SDK cannot accept.
func (i *Instrumentor) Instrument(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.instrumented {
		return nil
	}
	if !i.cfg.Enabled {
		i.logger.Debug("tracing disabled, instrumentation skipped")
		return nil
	}
	if err := i.cfg.Validate(); err != nil {
		return err
	}

	provider, err := i.ensureProvider(ctx)
	if err != nil {
		return err
	}

	tracer := provider.Tracer(tracerName)
	i.factory = NewSpanFactory(tracer)
	i.roots = NewRootTracker(i.factory, i.logger)

	if i.cfg.Metrics {
		if err := i.setupMetrics(); err != nil {
			// Metrics are ambient; losing them is not fatal.
			i.logger.Warn("failed to set up metrics", "error", err)
		}
	}
	if i.metrics != nil && i.cfg.MetricsAddr != "" {
		i.serveMetrics()
	}

	listenerOpts := []ListenerOption{WithListenerLogger(i.logger)}
	if i.metrics != nil {
		listenerOpts = append(listenerOpts, WithListenerMetrics(i.metrics))
	}
	i.listener = NewListener(i.factory, i.roots, listenerOpts...)
	i.listener.Register(i.bus)

	i.instrumented = true
	i.logger.Info("tracing instrumented",
		"service", i.cfg.ServiceName,
		"exporters", len(i.cfg.Exporters),
		"sampling", i.cfg.SamplingRate)
	return nil
}

// ensureProvider reuses the ambient SDK provider when one is already
// registered, otherwise builds one from configuration and installs it
// globally.
func (i *Instrumentor) ensureProvider(ctx context.Context) (trace.TracerProvider, error) {
	if current, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		i.sdkProvider = current
		i.ownsProvider = false
		return current, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(i.cfg.ServiceName),
			semconv.ServiceVersion(i.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(i.cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(i.cfg.SamplingRate)),
	}
	for _, processor := range CreateProcessorsFromConfig(ctx, i.cfg) {
		opts = append(opts, sdktrace.WithSpanProcessor(processor))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	i.sdkProvider = tp
	i.ownsProvider = true
	return tp, nil
}

func (i *Instrumentor) setupMetrics() error {
	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	i.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	collector, err := NewMetricsCollector(i.meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	i.metrics = collector
	return nil
}

// serveMetrics exposes the Prometheus scrape endpoint for the lifetime
// of the instrumentor. A failed listen degrades to no endpoint.
func (i *Instrumentor) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", i.MetricsHandler())
	i.metricsServer = &http.Server{Addr: i.cfg.MetricsAddr, Handler: mux}
	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Warn("metrics server stopped", "addr", srv.Addr, "error", err)
		}
	}(i.metricsServer)
	i.logger.Info("metrics endpoint listening", "addr", i.cfg.MetricsAddr)
}

// Uninstrument detaches the listener from the bus. The provider stays
// registered so that other traced code in the process keeps working;
// Shutdown tears it down.
func (i *Instrumentor) Uninstrument() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.instrumented {
		return
	}
	i.listener.Unregister()
	i.instrumented = false
	i.logger.Debug("tracing uninstrumented")
}

// Instrumented reports whether Instrument has completed.
func (i *Instrumentor) Instrumented() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.instrumented
}

// Factory returns the span factory, or nil before Instrument.
func (i *Instrumentor) Factory() *SpanFactory {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.factory
}

// Roots returns the root tracker, or nil before Instrument.
func (i *Instrumentor) Roots() *RootTracker {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.roots
}

// Metrics returns the metrics collector, or nil when metrics are off.
func (i *Instrumentor) Metrics() *MetricsCollector {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.metrics
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func (i *Instrumentor) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// WrapProvider decorates an LLM provider with tracing, and with
// metrics when enabled. Before Instrument it returns the provider
// unchanged.
func (i *Instrumentor) WrapProvider(provider llm.Provider) llm.Provider {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.factory == nil {
		return provider
	}
	if i.metrics != nil {
		return WrapProviderWithMetrics(provider, i.factory, i.metrics)
	}
	return WrapProvider(provider, i.factory)
}

// WrapFlow decorates a flow with an execution span.
func (i *Instrumentor) WrapFlow(flow FlowRunner) FlowRunner {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.factory == nil {
		return flow
	}
	return WrapFlow(flow, i.factory)
}

// WrapCrew decorates a crew, emitting its creation marker.
func (i *Instrumentor) WrapCrew(ctx context.Context, crew CrewRunner) CrewRunner {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.factory == nil {
		return crew
	}
	return WrapCrew(ctx, crew, i.factory)
}

// WrapTask decorates a task, emitting its creation marker.
func (i *Instrumentor) WrapTask(ctx context.Context, task TaskExecutor) TaskExecutor {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.factory == nil {
		return task
	}
	return WrapTask(ctx, task, i.factory)
}

// WrapTool decorates a tool with spans around each invocation.
func (i *Instrumentor) WrapTool(tool ToolRunner) ToolRunner {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.factory == nil {
		return tool
	}
	return WrapTool(tool, i.factory)
}

// ForceFlush exports all pending spans synchronously.
func (i *Instrumentor) ForceFlush(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.sdkProvider != nil {
		if err := i.sdkProvider.ForceFlush(ctx); err != nil {
			return err
		}
	}
	if i.meterProvider != nil {
		return i.meterProvider.ForceFlush(ctx)
	}
	return nil
}

// Shutdown flushes and tears down providers this instrumentor owns.
// A provider that was reused from the ambient environment is left for
// its owner to shut down.
func (i *Instrumentor) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.instrumented {
		i.listener.Unregister()
		i.instrumented = false
	}

	var firstErr error
	if i.metricsServer != nil {
		if err := i.metricsServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
		i.metricsServer = nil
	}
	if i.ownsProvider && i.sdkProvider != nil {
		if err := i.sdkProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if i.meterProvider != nil {
		if err := i.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
