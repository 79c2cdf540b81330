// Package sse implements the server-sent-events transport for workflow
// streams. One controller owns one HTTP response for the duration of a turn.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/parley-ai/parley/internal/domain/stream"
)

// Controller writes workflow events to an SSE response. It is safe for
// concurrent Sends, closes exactly once, and drops events sent after close
// instead of panicking. It implements stream.Sink.
type Controller struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	chunkSize int
	closed    bool
	delivered bool // at least one content event reached the client
}

// New prepares the response for event streaming. Returns an error if the
// underlying writer cannot flush.
func New(w http.ResponseWriter) (*Controller, error) {
	return NewChunked(w, 0)
}

// NewChunked is New with content re-chunking: content payloads longer than
// chunkSize runes are split into multiple events. chunkSize <= 0 disables
// splitting.
func NewChunked(w http.ResponseWriter, chunkSize int) (*Controller, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Controller{w: w, flusher: flusher, chunkSize: chunkSize}, nil
}

// Send writes one typed event. Content payloads are sanitized first and
// dropped entirely if nothing survives. An error event is suppressed when
// content has already been delivered: the client got a partial answer and a
// trailing error would clobber it.
func (c *Controller) Send(t stream.Type, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch t {
	case stream.TypeContent:
		c.sendContent(payload)
	case stream.TypeError:
		if c.delivered {
			slog.Debug("sse: suppressing error after delivered content")
			return
		}
		c.write(t, payload)
	default:
		c.write(t, payload)
	}
}

// Delivered reports whether any content event reached the client.
func (c *Controller) Delivered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Close terminates the stream. Safe to call more than once; later Sends
// are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.flusher.Flush()
}

// sendContent sanitizes, chunks and writes a content payload.
// Caller holds c.mu.
func (c *Controller) sendContent(payload any) {
	ev, ok := payload.(stream.ContentEvent)
	if !ok {
		c.write(stream.TypeContent, payload)
		return
	}

	clean := stream.SanitizeContent(ev.Content)
	if clean == "" {
		return
	}
	for _, chunk := range stream.Chunks(clean, c.chunkSize) {
		c.write(stream.TypeContent, stream.ContentEvent{Content: chunk})
		c.delivered = true
	}
}

// write emits one "event:"/"data:" record and flushes. Caller holds c.mu.
func (c *Controller) write(t stream.Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("sse: marshal event failed", "type", string(t), "error", err)
		return
	}

	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", t, data); err != nil {
		// Client went away. Stop writing; the workflow keeps running.
		slog.Debug("sse: write failed, closing stream", "error", err)
		c.closed = true
		return
	}
	c.flusher.Flush()
}
