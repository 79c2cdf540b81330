package litellm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/domain/thread"
	"github.com/parley-ai/parley/internal/port/model"
	"github.com/parley-ai/parley/internal/resilience"
)

func newTestProvider(url string) *Provider {
	return New(config.LiteLLM{URL: url, Model: "openai/gpt-4o"}, resilience.NewBreaker(3, time.Second))
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n\n"))
		}
	}))
}

func collect(t *testing.T, ch <-chan model.Chunk) []model.Chunk {
	t.Helper()
	var out []model.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestStreamContent(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), model.Request{
		Messages: []thread.Message{{Role: thread.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	chunks := collect(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if got := chunks[0].ContentDelta + chunks[1].ContentDelta; got != "Hello" {
		t.Errorf("content = %q, want Hello", got)
	}
}

func TestStreamAssemblesFragmentedToolCall(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_search","arguments":"{\"qu"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"go\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	chunks := collect(t, ch)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	call := chunks[0].ToolCall
	if call == nil {
		t.Fatal("expected tool call chunk")
	}
	if call.ID != "call_1" || call.Name != "web_search" {
		t.Errorf("call = %+v", call)
	}
	if q, _ := call.Args["query"].(string); q != "go" {
		t.Errorf("args = %v", call.Args)
	}
}

func TestStreamToolCallWithoutFinishReason(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_2","function":{"name":"calc","arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	ch, err := newTestProvider(srv.URL).Stream(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	chunks := collect(t, ch)
	if len(chunks) != 1 || chunks[0].ToolCall == nil {
		t.Fatalf("expected 1 tool call chunk, got %+v", chunks)
	}
	if chunks[0].ToolCall.Name != "calc" {
		t.Errorf("name = %s", chunks[0].ToolCall.Name)
	}
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "proxy down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).Stream(context.Background(), model.Request{})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestStreamBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(config.LiteLLM{URL: srv.URL}, resilience.NewBreaker(2, time.Minute))

	for range 2 {
		if _, err := p.Stream(context.Background(), model.Request{}); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := p.Stream(context.Background(), model.Request{})
	if err == nil || !strings.Contains(err.Error(), "circuit breaker") {
		t.Errorf("expected open breaker, got %v", err)
	}
}

func TestWireRequestMapsMessages(t *testing.T) {
	t.Parallel()

	p := newTestProvider("http://localhost")
	req := model.Request{
		Messages: []thread.Message{
			{Role: thread.RoleSystem, Content: "sys"},
			{Role: thread.RoleAssistant, ToolCalls: []thread.ToolCall{
				{ID: "c1", Name: "calc", Args: map[string]any{"x": 1}},
			}},
			{Role: thread.RoleTool, ToolCallID: "c1", Name: "calc", Content: "2"},
		},
		Tools: []model.ToolSpec{
			{Name: "calc", Description: "adds", Schema: map[string]any{"type": "object"}},
		},
	}

	wire := p.wireRequest(req)
	if wire.Model != "openai/gpt-4o" {
		t.Errorf("model = %s", wire.Model)
	}
	if !wire.Stream {
		t.Error("stream flag must be set")
	}
	if len(wire.Messages) != 3 {
		t.Fatalf("got %d messages", len(wire.Messages))
	}
	if wire.Messages[1].ToolCalls[0].Function.Arguments != `{"x":1}` {
		t.Errorf("args = %s", wire.Messages[1].ToolCalls[0].Function.Arguments)
	}
	if wire.Messages[2].Role != "tool" || wire.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", wire.Messages[2])
	}
	if wire.Tools[0].Function.Name != "calc" {
		t.Errorf("tools = %+v", wire.Tools)
	}
}
