// Package mcp connects to MCP (Model Context Protocol) servers and exposes
// their tools through the tool port.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/parley-ai/parley/internal/domain/policy"
	"github.com/parley-ai/parley/internal/port/tool"
)

// Source is one connected MCP server.
type Source struct {
	name   string
	client mcpclient.MCPClient
}

// Connect dials an MCP server over streamable HTTP and performs the
// initialize handshake.
func Connect(ctx context.Context, name, url string) (*Source, error) {
	client, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("mcp client %s: %w", name, err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "parley",
		Version: "1.0.0",
	}
	initResult, err := client.Initialize(ctx, initReq)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp initialize %s: %w", name, err)
	}

	slog.Info("mcp server connected",
		"name", name,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version)

	return &Source{name: name, client: client}, nil
}

// RegisterTools discovers the server's tools and registers each with the
// registry. Tools whose schema the registry rejects are skipped with a
// warning rather than failing the whole source.
func (s *Source) RegisterTools(ctx context.Context, registry *tool.Registry) error {
	result, err := s.client.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp list tools %s: %w", s.name, err)
	}

	for i := range result.Tools {
		t := &serverTool{source: s, def: result.Tools[i]}
		if err := registry.Register(t, capabilityFor(result.Tools[i])); err != nil {
			slog.Warn("skipping mcp tool", "server", s.name, "tool", t.Name(), "error", err)
		}
	}
	return nil
}

// Close shuts down the server connection.
func (s *Source) Close() error {
	return s.client.Close()
}

// capabilityFor derives a tool capability from MCP annotations, falling back
// to name vocabulary when the server declares nothing.
func capabilityFor(def mcpprotocol.Tool) policy.Capability {
	ann := def.Annotations
	if ann.ReadOnlyHint != nil || ann.DestructiveHint != nil {
		readOnly := ann.ReadOnlyHint != nil && *ann.ReadOnlyHint
		destructive := ann.DestructiveHint != nil && *ann.DestructiveHint
		return policy.Capability{
			ParallelSafe:     readOnly && !destructive,
			RequiresApproval: destructive,
		}
	}
	return policy.Classify(def.Name)
}
