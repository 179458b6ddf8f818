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

// Package config loads bookflow's configuration from YAML with
// environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/bookflow/internal/tracing"
	bferrors "github.com/tombee/bookflow/pkg/errors"
)

// Config is the complete bookflow configuration.
type Config struct {
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// LLM selects the provider and model used by all agents.
	LLM LLMConfig `yaml:"llm"`

	// Book holds the defaults for the book flow.
	Book BookConfig `yaml:"book"`

	// Knowledge lists glob patterns for reference material fed to
	// agents, e.g. "notes/**/*.md".
	Knowledge []string `yaml:"knowledge,omitempty"`

	// MCP lists external tool servers to connect at startup.
	MCP []MCPConfig `yaml:"mcp,omitempty"`

	// Tracing configures the OpenTelemetry pipeline.
	Tracing tracing.Config `yaml:"tracing"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: text.
	Format string `yaml:"format,omitempty"`
}

// LLMConfig selects the LLM provider.
type LLMConfig struct {
	// Provider names the provider, e.g. "openai".
	Provider string `yaml:"provider"`

	// Model is the model identifier passed on every request.
	Model string `yaml:"model"`

	// BaseURL optionally overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Timeout bounds a single completion request. Default: 120s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// BookConfig holds the book flow defaults. CLI flags override these.
type BookConfig struct {
	Title string `yaml:"title,omitempty"`
	Topic string `yaml:"topic,omitempty"`
	Goal  string `yaml:"goal,omitempty"`

	// OutputDir is where finished books are written. Default: ".".
	OutputDir string `yaml:"output_dir,omitempty"`
}

// MCPConfig describes one external MCP tool server.
type MCPConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			Timeout:  120 * time.Second,
		},
		Book: BookConfig{
			OutputDir: ".",
		},
		Tracing: tracing.ConfigFromEnv(),
	}
}

// Load reads the config file at path, layering it over Default. A
// missing file is not an error; the defaults apply. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, &bferrors.ConfigError{Reason: "failed to read config file", Cause: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &bferrors.ConfigError{Reason: "config file is not valid YAML", Cause: err}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the loaded file.
// BOOKFLOW_MODEL and BOOKFLOW_PROVIDER select the LLM;
// BOOKFLOW_OUTPUT_DIR moves the output directory.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BOOKFLOW_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("BOOKFLOW_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("BOOKFLOW_OUTPUT_DIR"); v != "" {
		cfg.Book.OutputDir = v
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return &bferrors.ConfigError{Key: "llm.provider", Reason: "provider is required"}
	}
	if c.LLM.Model == "" {
		return &bferrors.ConfigError{Key: "llm.model", Reason: "model is required"}
	}
	if c.LLM.Timeout < 0 {
		return &bferrors.ConfigError{Key: "llm.timeout", Reason: "timeout cannot be negative"}
	}
	for i, server := range c.MCP {
		if server.Name == "" {
			return &bferrors.ConfigError{
				Key:    fmt.Sprintf("mcp[%d].name", i),
				Reason: "server name is required",
			}
		}
		if server.Command == "" {
			return &bferrors.ConfigError{
				Key:    fmt.Sprintf("mcp[%d].command", i),
				Reason: "command is required",
			}
		}
	}
	if err := c.Tracing.Validate(); err != nil {
		return &bferrors.ConfigError{Key: "tracing", Reason: err.Error()}
	}
	return nil
}
