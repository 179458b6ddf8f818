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
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls how the Instrumentor sets up the OpenTelemetry
// pipeline. The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Enabled turns the whole subsystem on or off. When false,
	// Instrument is a no-op and all wrappers pass calls through.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ServiceName identifies this process in exported traces.
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is attached to the trace resource.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Environment tags traces (development, staging, production).
	Environment string `yaml:"environment" json:"environment"`

	// SamplingRate in [0.0, 1.0]. Error spans are always kept.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	// Exporters to install. Empty means console only.
	Exporters []ExporterConfig `yaml:"exporters" json:"exporters"`

	// Storage persists finished spans to a local database.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// BatchTimeout bounds how long a span sits in the batch
	// processor before export.
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`

	// MaxExportBatch is the batch processor's batch size.
	MaxExportBatch int `yaml:"max_export_batch" json:"max_export_batch"`

	// Metrics enables the Prometheus meter provider.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// MetricsAddr, when set, serves the Prometheus scrape endpoint
	// on this address (e.g. "localhost:9464") for the lifetime of
	// the instrumentor.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// ExporterConfig describes a single span exporter.
type ExporterConfig struct {
	// Type is one of "console", "otlp", "otlp-http" (alias
	// "otlp_http"), or "none".
	Type string `yaml:"type" json:"type"`

	// Endpoint for OTLP exporters, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `yaml:"insecure" json:"insecure"`

	// Headers are added to every OTLP export request.
	Headers map[string]string `yaml:"headers" json:"headers"`

	// Timeout for a single export call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// TLS configures certificates for OTLP exporters.
	TLS TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig carries certificate paths for OTLP export.
type TLSConfig struct {
	CertFile           string `yaml:"cert_file" json:"cert_file"`
	KeyFile            string `yaml:"key_file" json:"key_file"`
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// StorageConfig controls local span persistence.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`

	// RetentionDays prunes spans older than this on startup.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// Encrypt stores span payloads encrypted at rest. The key is
	// derived from the BOOKFLOW_TRACE_KEY environment variable.
	Encrypt bool `yaml:"encrypt" json:"encrypt"`
}

// DefaultConfig returns the configuration used when nothing else is
// specified: tracing on, console exporter, full sampling, no storage.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		ServiceName:    "bookflow",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		Exporters: []ExporterConfig{
			{Type: "console"},
		},
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
	}
}

// ConfigFromEnv layers environment overrides onto DefaultConfig.
// BOOKFLOW_TRACING=0 disables tracing entirely;
// BOOKFLOW_OTLP_ENDPOINT adds an OTLP gRPC exporter;
// BOOKFLOW_TRACE_SAMPLE sets the sampling rate.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("BOOKFLOW_TRACING"); v == "0" || v == "false" {
		cfg.Enabled = false
	}
	if v := os.Getenv("BOOKFLOW_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("BOOKFLOW_OTLP_ENDPOINT"); v != "" {
		cfg.Exporters = append(cfg.Exporters, ExporterConfig{
			Type:     "otlp",
			Endpoint: v,
			Insecure: os.Getenv("BOOKFLOW_OTLP_INSECURE") == "true",
		})
	}
	if v := os.Getenv("BOOKFLOW_TRACE_SAMPLE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SamplingRate = rate
		}
	}
	if v := os.Getenv("BOOKFLOW_TRACE_DB"); v != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.Path = v
	}
	if v := os.Getenv("BOOKFLOW_METRICS_ADDR"); v != "" {
		cfg.Metrics = true
		cfg.MetricsAddr = v
	}
	return cfg
}

// Validate checks the configuration for values the SDK would reject.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("tracing: service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("tracing: sampling rate %v outside [0.0, 1.0]", c.SamplingRate)
	}
	for i, exp := range c.Exporters {
		switch exp.Type {
		case "console", "none", "":
		case "otlp", "otlp-http", "otlp_http":
			if exp.Endpoint == "" {
				return fmt.Errorf("tracing: exporter %d (%s) requires an endpoint", i, exp.Type)
			}
		default:
			return fmt.Errorf("tracing: unknown exporter type %q", exp.Type)
		}
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("tracing: storage enabled without a path")
	}
	return nil
}
