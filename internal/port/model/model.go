// Package model defines the language-model provider port.
package model

import (
	"context"

	"github.com/parley-ai/parley/internal/domain/thread"
)

// ToolSpec is the provider-facing description of one invocable tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// Request is one chat completion request.
type Request struct {
	Model       string           `json:"model"`
	Messages    []thread.Message `json:"messages"`
	Tools       []ToolSpec       `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ToolCallDelta is an incrementally assembled tool call from the stream.
// Args may arrive across several chunks; the provider adapter assembles them
// and emits one complete delta per call.
type ToolCallDelta struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Chunk is one unit of streamed provider output. Exactly one field is set.
type Chunk struct {
	ContentDelta string
	ToolCall     *ToolCallDelta
	Err          error
}

// Provider is the port interface for a streaming chat model. The returned
// channel is closed when the completion ends; a terminal failure is
// delivered as a final Chunk with Err set.
type Provider interface {
	// Name returns the provider identifier (e.g. "litellm").
	Name() string

	// Stream starts a chat completion and streams its output.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
