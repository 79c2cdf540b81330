package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/parley-ai/parley/internal/domain/stream"
	"github.com/parley-ai/parley/internal/port/messagequeue"
)

// Mirror is a stream.Sink that republishes every workflow event onto the
// bus so detached observers (audit consumers, other instances) see the full
// turn. Publish failures are logged and dropped; the client-facing stream
// must not stall on the mirror.
type Mirror struct {
	queue    messagequeue.Queue
	threadID string
	closed   atomic.Bool
}

// NewMirror creates a mirror sink for one thread.
func NewMirror(queue messagequeue.Queue, threadID string) *Mirror {
	return &Mirror{queue: queue, threadID: threadID}
}

// Send publishes the event to parley.events.<threadID>.<type>.
func (m *Mirror) Send(t stream.Type, payload any) {
	if m.closed.Load() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("mirror marshal failed", "thread_id", m.threadID, "type", string(t), "error", err)
		return
	}
	subject := messagequeue.EventSubject(m.threadID, string(t))
	if err := m.queue.Publish(context.Background(), subject, data); err != nil {
		slog.Error("mirror publish failed", "subject", subject, "error", err)
	}
}

// Close stops the mirror. Sends after Close are dropped.
func (m *Mirror) Close() {
	m.closed.Store(true)
}
