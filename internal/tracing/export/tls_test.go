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

package export

import (
	"bytes"
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildTLSConfigDefaults(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{})
	if err != nil {
		t.Fatalf("BuildTLSConfig() error = %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d", cfg.MinVersion)
	}
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should default to false")
	}
	if cfg.RootCAs == nil {
		t.Error("system cert pool not loaded")
	}
}

func TestBuildTLSConfigInsecureSkipsPool(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("BuildTLSConfig() error = %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not applied")
	}
	if cfg.RootCAs != nil {
		t.Error("cert pool loaded despite skip verify")
	}
}

func TestBuildTLSConfigMissingCA(t *testing.T) {
	if _, err := BuildTLSConfig(TLSOptions{CAFile: "/nonexistent/ca.pem"}); err == nil {
		t.Error("expected error for missing CA file")
	}
}

func TestBuildTLSConfigInvalidCA(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := BuildTLSConfig(TLSOptions{CAFile: path}); err == nil {
		t.Error("expected error for unparseable CA file")
	}
}

func TestBuildTLSConfigMissingClientPair(t *testing.T) {
	if _, err := BuildTLSConfig(TLSOptions{
		CertFile:           "/nonexistent/cert.pem",
		KeyFile:            "/nonexistent/key.pem",
		InsecureSkipVerify: true,
	}); err == nil {
		t.Error("expected error for missing client certificate")
	}
}

func TestValidateTLSConfig(t *testing.T) {
	if err := validateTLSConfig(nil); err == nil {
		t.Error("nil config should fail validation")
	}
	if err := validateTLSConfig(&tls.Config{MinVersion: tls.VersionTLS10}); err == nil {
		t.Error("TLS 1.0 floor should fail validation")
	}
	if err := validateTLSConfig(&tls.Config{MinVersion: tls.VersionTLS13}); err != nil {
		t.Errorf("TLS 1.3 floor rejected: %v", err)
	}
}

func TestConsoleExporterWrites(t *testing.T) {
	var buf bytes.Buffer
	exporter, err := NewConsoleExporter(ConsoleConfig{Writer: &buf, PrettyPrint: true})
	if err != nil {
		t.Fatalf("NewConsoleExporter() error = %v", err)
	}
	if exporter == nil {
		t.Fatal("nil exporter")
	}
}
