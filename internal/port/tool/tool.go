// Package tool defines the tool port (interface) and the registry that binds
// tools to their declared capabilities.
package tool

import "context"

// Tool is the port interface for one invocable capability exposed to the
// model.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g. "web_search").
	Name() string

	// Description returns the natural-language description shown to the model.
	Description() string

	// Schema returns the JSON-schema parameter object for this tool.
	Schema() map[string]any

	// Invoke executes the tool with the given arguments and returns its
	// textual result.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}
