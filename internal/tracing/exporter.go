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
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/bookflow/internal/tracing/export"
	"github.com/tombee/bookflow/internal/tracing/storage"
	"github.com/tombee/bookflow/pkg/observability"
)

// StorageExporter persists spans to the local SQLite store. It
// implements sdktrace.SpanExporter.
type StorageExporter struct {
	store *storage.SQLiteStore
}

// NewStorageExporter creates an exporter writing to the given store.
func NewStorageExporter(store *storage.SQLiteStore) *StorageExporter {
	return &StorageExporter{store: store}
}

// ExportSpans stores a batch of spans. One bad span does not fail the
// batch.
func (e *StorageExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, otelSpan := range spans {
		span := convertOTelSpan(otelSpan)
		if err := e.store.StoreSpan(ctx, span); err != nil {
			slog.Debug("failed to store span", "span", span.Name, "error", err)
			continue
		}
	}
	return nil
}

// Shutdown releases resources. The store itself is closed by its owner.
func (e *StorageExporter) Shutdown(ctx context.Context) error {
	return nil
}

var _ sdktrace.SpanExporter = (*StorageExporter)(nil)

// convertOTelSpan converts a finished SDK span to the storage model.
func convertOTelSpan(otelSpan sdktrace.ReadOnlySpan) *observability.Span {
	span := &observability.Span{
		TraceID:   otelSpan.SpanContext().TraceID().String(),
		SpanID:    otelSpan.SpanContext().SpanID().String(),
		Name:      otelSpan.Name(),
		StartTime: otelSpan.StartTime(),
		EndTime:   otelSpan.EndTime(),
	}

	if otelSpan.Parent().IsValid() {
		span.ParentID = otelSpan.Parent().SpanID().String()
	}

	switch otelSpan.SpanKind() {
	case trace.SpanKindClient:
		span.Kind = observability.SpanKindClient
	case trace.SpanKindServer:
		span.Kind = observability.SpanKindServer
	case trace.SpanKindProducer:
		span.Kind = observability.SpanKindProducer
	case trace.SpanKindConsumer:
		span.Kind = observability.SpanKindConsumer
	default:
		span.Kind = observability.SpanKindInternal
	}

	status := otelSpan.Status()
	switch status.Code {
	case codes.Ok:
		span.Status.Code = observability.StatusCodeOK
	case codes.Error:
		span.Status.Code = observability.StatusCodeError
		span.Status.Message = status.Description
	default:
		span.Status.Code = observability.StatusCodeUnset
	}

	span.Attributes = make(map[string]any)
	for _, attr := range otelSpan.Attributes() {
		span.Attributes[string(attr.Key)] = attr.Value.AsInterface()
	}

	span.Events = make([]observability.Event, 0, len(otelSpan.Events()))
	for _, otelEvent := range otelSpan.Events() {
		event := observability.Event{
			Name:       otelEvent.Name,
			Timestamp:  otelEvent.Time,
			Attributes: make(map[string]any),
		}
		for _, attr := range otelEvent.Attributes {
			event.Attributes[string(attr.Key)] = attr.Value.AsInterface()
		}
		span.Events = append(span.Events, event)
	}

	return span
}

// CreateExporter creates a span exporter from configuration.
func CreateExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case "console":
		return export.NewConsoleExporter(export.ConsoleConfig{
			PrettyPrint: true,
		})

	case "otlp":
		tlsConfig, err := buildExporterTLS(cfg)
		if err != nil {
			return nil, err
		}
		return export.NewOTLPExporter(ctx, export.OTLPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  cfg.Insecure,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
			Timeout:   cfg.Timeout,
		})

	case "otlp-http", "otlp_http":
		tlsConfig, err := buildExporterTLS(cfg)
		if err != nil {
			return nil, err
		}
		return export.NewOTLPHTTPExporter(ctx, export.OTLPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  cfg.Insecure,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
			Timeout:   cfg.Timeout,
		})

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Type)
	}
}

func buildExporterTLS(cfg ExporterConfig) (tlsConfig *tls.Config, err error) {
	if cfg.Insecure {
		return nil, nil
	}
	hasCustom := cfg.TLS.CertFile != "" || cfg.TLS.KeyFile != "" ||
		cfg.TLS.CAFile != "" || cfg.TLS.InsecureSkipVerify
	if !hasCustom {
		return nil, nil
	}
	tlsConfig, err = export.BuildTLSConfig(export.TLSOptions{
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		CAFile:             cfg.TLS.CAFile,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS config for %s exporter: %w", cfg.Type, err)
	}
	return tlsConfig, nil
}

// CreateProcessorsFromConfig creates batch span processors for every
// configured exporter, plus the storage exporter when enabled.
// Exporter creation failures are logged and skipped; partial export
// beats no export.
func CreateProcessorsFromConfig(ctx context.Context, cfg Config) []sdktrace.SpanProcessor {
	var processors []sdktrace.SpanProcessor

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if cfg.MaxExportBatch > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatch))
	}
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}

	for i, exporterCfg := range cfg.Exporters {
		exporter, err := CreateExporter(ctx, exporterCfg)
		if err != nil {
			slog.Warn("failed to create exporter, skipping",
				"index", i,
				"type", exporterCfg.Type,
				"endpoint", exporterCfg.Endpoint,
				"error", err)
			continue
		}
		if exporter == nil {
			continue
		}
		processors = append(processors, sdktrace.NewBatchSpanProcessor(exporter, batchOpts...))
		slog.Debug("created exporter", "type", exporterCfg.Type, "endpoint", exporterCfg.Endpoint)
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(storage.Config{
			Path:             cfg.Storage.Path,
			EnableEncryption: cfg.Storage.Encrypt,
		})
		if err != nil {
			slog.Warn("failed to open span storage, skipping", "path", cfg.Storage.Path, "error", err)
		} else {
			if cfg.Storage.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -cfg.Storage.RetentionDays)
				if n, err := store.DeleteTracesOlderThan(ctx, cutoff); err == nil && n > 0 {
					slog.Debug("pruned stored traces", "count", n)
				}
			}
			processors = append(processors, sdktrace.NewBatchSpanProcessor(NewStorageExporter(store), batchOpts...))
		}
	}

	return processors
}
