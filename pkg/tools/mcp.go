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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServerConfig configures a connection to an external MCP tool server.
type MCPServerConfig struct {
	// Name is the unique identifier for this server. Tool names are
	// namespaced under it as "<name>.<tool>".
	Name string

	// Command is the executable to run.
	Command string

	// Args are the command-line arguments.
	Args []string

	// Env are environment variables to pass to the server.
	Env []string

	// Timeout is the default timeout for tool calls (defaults to 30s).
	Timeout time.Duration
}

// MCPServer wraps a connection to an MCP server and exposes its tools
// through the engine's tool interface.
type MCPServer struct {
	name    string
	client  *client.Client
	timeout time.Duration
}

// ConnectMCPServer starts the server process and completes the MCP
// initialize handshake.
func ConnectMCPServer(ctx context.Context, cfg MCPServerConfig) (*MCPServer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	s := &MCPServer{
		name:    cfg.Name,
		client:  mcpClient,
		timeout: timeout,
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "bookflow",
				Version: "0.1.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return s, nil
}

// Name returns the server identifier.
func (s *MCPServer) Name() string { return s.name }

// Tools lists the server's tools as engine tools, each namespaced under
// the server name.
func (s *MCPServer) Tools(ctx context.Context) ([]*MCPTool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]*MCPTool, 0, len(result.Tools))
	for _, def := range result.Tools {
		schema, err := decodeInputSchema(def)
		if err != nil {
			return nil, err
		}
		tools = append(tools, &MCPTool{
			server:      s,
			name:        def.Name,
			description: def.Description,
			schema:      schema,
		})
	}

	return tools, nil
}

// Ping checks that the server is still responsive.
func (s *MCPServer) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close shuts down the connection and the server process.
func (s *MCPServer) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}

func (s *MCPServer) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool call failed: %w", err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		return "", fmt.Errorf("tool %s returned an error: %s", name, text)
	}

	return text, nil
}

// decodeInputSchema extracts the tool's JSON Schema as a map, preferring
// the raw schema when the server supplies one.
func decodeInputSchema(def mcp.Tool) (map[string]any, error) {
	var raw []byte
	if len(def.RawInputSchema) > 0 {
		raw = def.RawInputSchema
	} else {
		encoded, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for %s: %w", def.Name, err)
		}
		raw = encoded
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode schema for %s: %w", def.Name, err)
	}

	return schema, nil
}

// MCPTool adapts one remote MCP tool to the engine's tool interface.
// Execution routes through the owning server's client.
type MCPTool struct {
	server      *MCPServer
	name        string
	description string
	schema      map[string]any
}

// Name returns the namespaced tool name (e.g., "research.web_search").
func (t *MCPTool) Name() string {
	return t.server.name + "." + t.name
}

// Description returns the tool description from the MCP definition.
func (t *MCPTool) Description() string {
	return t.description
}

// InputSchema returns the tool's input schema as decoded JSON Schema.
func (t *MCPTool) InputSchema() map[string]any {
	if t.schema == nil {
		return map[string]any{"type": "object"}
	}
	return t.schema
}

// Run invokes the remote tool with the given arguments.
func (t *MCPTool) Run(ctx context.Context, args map[string]any) (string, error) {
	return t.server.callTool(ctx, t.name, args)
}
