package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/parley-ai/parley/internal/domain/stream"
)

// BroadcastEvent marshals a typed event and broadcasts it to observers of
// the thread. When AG-UI mode is on, the translated AG-UI messages follow
// the native event.
func (h *Hub) BroadcastEvent(ctx context.Context, threadID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:     eventType,
		ThreadID: threadID,
		Payload:  json.RawMessage(data),
	})

	if h.agui {
		for _, msg := range translateAGUI(threadID, stream.Type(eventType), payload) {
			h.Broadcast(ctx, msg)
		}
	}
}

// observerSink adapts the hub to stream.Sink for one thread, so the
// workflow can fan events to observers alongside the owning SSE client.
type observerSink struct {
	hub      *Hub
	threadID string
}

// ObserverSink returns a stream.Sink that broadcasts every event to
// observers of threadID. Close is a no-op: the hub outlives any turn.
func (h *Hub) ObserverSink(threadID string) stream.Sink {
	return &observerSink{hub: h, threadID: threadID}
}

func (s *observerSink) Send(t stream.Type, payload any) {
	s.hub.BroadcastEvent(context.Background(), s.threadID, string(t), payload)
}

func (s *observerSink) Close() {}
