// Package ws implements the WebSocket observer adapter. Observers attach to
// a thread (or to all threads) and receive the same events the owning SSE
// client sees, without being able to write into the turn.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. threadID narrows which thread's
// events it receives; empty means all threads.
type conn struct {
	ws       *websocket.Conn
	cancel   context.CancelFunc
	threadID string
}

// Hub manages observer connections and broadcasts thread events to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
	agui  bool
}

// NewHub creates a WebSocket hub. When agui is true, events are additionally
// translated to AG-UI protocol messages for frontends speaking it.
func NewHub(agui bool) *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
		agui:  agui,
	}
}

// HandleWS upgrades the connection and registers it as an observer. The
// optional "thread_id" query parameter scopes the subscription.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		ws:       ws,
		cancel:   cancel,
		threadID: r.URL.Query().Get("thread_id"),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("observer connected", "remote", r.RemoteAddr, "thread_id", c.threadID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a message to every connection observing its thread.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if c.threadID != "" && c.threadID != msg.ThreadID {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active observer connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("observer disconnected")
	}
}
