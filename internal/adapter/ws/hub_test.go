package ws

import (
	"context"
	"testing"

	"github.com/parley-ai/parley/internal/domain/stream"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(false)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(false)

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub(false)

	hub.BroadcastEvent(context.Background(), "th-1", string(stream.TypeContent), stream.ContentEvent{
		Content: "hello",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub(false)

	// A channel cannot be marshaled to JSON — should log, not panic.
	hub.BroadcastEvent(context.Background(), "th-1", "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub(false)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel, threadID: "th-1"}
	hub.remove(c)
}

func TestObserverSinkNoConnections(t *testing.T) {
	hub := NewHub(true)

	sink := hub.ObserverSink("th-1")
	sink.Send(stream.TypeContent, stream.ContentEvent{Content: "hi"})
	sink.Close()
}

func TestTranslateAGUI(t *testing.T) {
	tests := []struct {
		name    string
		evType  stream.Type
		payload any
		want    string
		wantLen int
	}{
		{
			name:    "content",
			evType:  stream.TypeContent,
			payload: stream.ContentEvent{Content: "hi"},
			want:    AGUITextMessage,
			wantLen: 1,
		},
		{
			name:   "tool call",
			evType: stream.TypeToolCall,
			payload: stream.ToolCallEvent{
				ID:   "call-1",
				Name: "web_search",
				Args: map[string]any{"q": "go"},
			},
			want:    AGUIToolCall,
			wantLen: 1,
		},
		{
			name:   "human input",
			evType: stream.TypeHumanInputRequired,
			payload: stream.HumanInputRequiredEvent{
				InterruptID: "int-1",
				ToolName:    "delete_file",
			},
			want:    AGUIPermissionRequest,
			wantLen: 1,
		},
		{
			name:    "done",
			evType:  stream.TypeDone,
			payload: stream.DoneEvent{},
			want:    AGUIRunFinished,
			wantLen: 1,
		},
		{
			name:    "unmapped type",
			evType:  stream.TypeParallelExecutionStart,
			payload: stream.ParallelPhaseEvent{},
			wantLen: 0,
		},
		{
			name:    "wrong payload type",
			evType:  stream.TypeContent,
			payload: 42,
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := translateAGUI("th-1", tt.evType, tt.payload)
			if len(msgs) != tt.wantLen {
				t.Fatalf("got %d messages, want %d", len(msgs), tt.wantLen)
			}
			if tt.wantLen > 0 {
				if msgs[0].Type != tt.want {
					t.Errorf("type = %s, want %s", msgs[0].Type, tt.want)
				}
				if msgs[0].ThreadID != "th-1" {
					t.Errorf("thread ID = %s, want th-1", msgs[0].ThreadID)
				}
			}
		})
	}
}
