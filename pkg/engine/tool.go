package engine

import "context"

// Tool is a capability an agent can invoke during task execution.
// Implementations live in pkg/tools; the engine only needs the calling
// surface.
type Tool interface {
	// Name identifies the tool to the model and in events.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// InputSchema is a JSON Schema describing the arguments.
	InputSchema() map[string]any

	// Run executes the tool with decoded arguments.
	Run(ctx context.Context, args map[string]any) (string, error)
}
