package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpprotocol "github.com/mark3labs/mcp-go/mcp"
)

// serverTool adapts one MCP tool definition to the tool port.
type serverTool struct {
	source *Source
	def    mcpprotocol.Tool
}

func (t *serverTool) Name() string        { return t.def.Name }
func (t *serverTool) Description() string { return t.def.Description }

// Schema converts the MCP input schema into a generic JSON-schema map.
func (t *serverTool) Schema() map[string]any {
	schema := map[string]any{
		"type": t.def.InputSchema.Type,
	}
	if t.def.InputSchema.Properties != nil {
		schema["properties"] = t.def.InputSchema.Properties
	}
	if len(t.def.InputSchema.Required) > 0 {
		schema["required"] = t.def.InputSchema.Required
	}
	return schema
}

// Invoke calls the tool on its server and flattens text content into one
// result string.
func (t *serverTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = t.def.Name
	req.Params.Arguments = args

	result, err := t.source.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", t.def.Name, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s: %s", t.def.Name, text)
	}
	return text, nil
}

func flattenContent(content []mcpprotocol.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcpprotocol.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
