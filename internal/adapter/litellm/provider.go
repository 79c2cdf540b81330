// Package litellm implements the model provider port against a LiteLLM
// proxy (OpenAI-compatible chat completions API).
package litellm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain/thread"
	"github.com/parley-ai/parley/internal/port/model"
	"github.com/parley-ai/parley/internal/resilience"
)

// Provider streams chat completions from a LiteLLM proxy. All requests pass
// through a circuit breaker so a dead proxy fails fast instead of piling up
// blocked turns.
type Provider struct {
	url     string
	key     string
	model   string
	client  *http.Client
	breaker *resilience.Breaker
}

// New creates a provider for the configured proxy.
func New(cfg config.LiteLLM, breaker *resilience.Breaker) *Provider {
	return &Provider{
		url:     strings.TrimRight(cfg.URL, "/"),
		key:     cfg.MasterKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 5 * time.Minute},
		breaker: breaker,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "litellm" }

// Stream starts a streaming chat completion. The connection is established
// under the breaker; the returned channel is closed when the stream ends.
func (p *Provider) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, error) {
	body, err := json.Marshal(p.wireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("litellm marshal request: %w", err)
	}

	var resp *http.Response
	err = p.breaker.Execute(func() error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			p.url+"/v1/chat/completions", bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("litellm build request: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.key)
		}

		resp, reqErr = p.client.Do(httpReq)
		if reqErr != nil {
			return fmt.Errorf("litellm request: %w", reqErr)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("litellm status %d: %s", resp.StatusCode, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan model.Chunk)
	go p.readStream(resp.Body, out)
	return out, nil
}

// readStream parses the SSE body and forwards chunks until [DONE] or error.
func (p *Provider) readStream(body io.ReadCloser, out chan<- model.Chunk) {
	defer close(out)
	defer body.Close()

	calls := newCallAssembler()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Debug("litellm: skipping malformed chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			out <- model.Chunk{ContentDelta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			calls.add(tc)
		}
		if choice.FinishReason == "tool_calls" {
			for _, call := range calls.finish() {
				out <- model.Chunk{ToolCall: call}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- model.Chunk{Err: fmt.Errorf("litellm stream: %w", err)}
		return
	}

	// Some proxies end the stream without a tool_calls finish reason.
	for _, call := range calls.finish() {
		out <- model.Chunk{ToolCall: call}
	}
}

// wireRequest converts the port request into OpenAI wire format.
func (p *Provider) wireRequest(req model.Request) wireRequest {
	m := req.Model
	if m == "" {
		m = p.model
	}

	wire := wireRequest{
		Model:       m,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		wire.Messages = append(wire.Messages, wireMessage(msg))
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return wire
}

func wireMessage(msg thread.Message) wireMsg {
	out := wireMsg{
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	for _, tc := range msg.ToolCalls {
		args, _ := json.Marshal(tc.Args)
		out.ToolCalls = append(out.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireCallFunction{
				Name:      tc.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}
