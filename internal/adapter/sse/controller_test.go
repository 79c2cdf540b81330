package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/domain/stream"
)

func newTestController(t *testing.T, chunkSize int) (*Controller, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, err := NewChunked(rec, chunkSize)
	if err != nil {
		t.Fatalf("NewChunked: %v", err)
	}
	return c, rec
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	_, rec := newTestController(t, 0)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestWireFormat(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Send(stream.TypeContent, stream.ContentEvent{Content: "hello"})
	c.Close()

	want := "event: content\ndata: {\"content\":\"hello\"}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestContentSanitized(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Send(stream.TypeContent, stream.ContentEvent{Content: "a [object Object] b"})
	c.Close()

	body := rec.Body.String()
	if strings.Contains(body, "[object Object]") {
		t.Errorf("artifact leaked to client: %q", body)
	}
	if !strings.Contains(body, "a  b") {
		t.Errorf("expected stripped content, got %q", body)
	}
}

func TestEmptyContentDropped(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Send(stream.TypeContent, stream.ContentEvent{Content: "undefined"})
	c.Close()

	if body := rec.Body.String(); body != "" {
		t.Errorf("expected nothing written, got %q", body)
	}
	if c.Delivered() {
		t.Error("dropped content must not count as delivered")
	}
}

func TestChunking(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 3)
	c.Send(stream.TypeContent, stream.ContentEvent{Content: "abcdefgh"})
	c.Close()

	body := rec.Body.String()
	if got := strings.Count(body, "event: content"); got != 3 {
		t.Errorf("expected 3 chunk events, got %d in %q", got, body)
	}
	for _, part := range []string{`"abc"`, `"def"`, `"gh"`} {
		if !strings.Contains(body, part) {
			t.Errorf("missing chunk %s in %q", part, body)
		}
	}
}

func TestErrorSuppressedAfterContent(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Send(stream.TypeContent, stream.ContentEvent{Content: "partial answer"})
	c.Send(stream.TypeError, stream.ErrorEvent{Error: "boom"})
	c.Close()

	if strings.Contains(rec.Body.String(), "event: error") {
		t.Error("error event must be suppressed after delivered content")
	}
}

func TestErrorSentWithoutContent(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Send(stream.TypeError, stream.ErrorEvent{Error: "boom"})
	c.Close()

	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Error("error event should be sent when nothing was delivered")
	}
}

func TestSendAfterCloseDropped(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Close()
	c.Close() // idempotent
	c.Send(stream.TypeContent, stream.ContentEvent{Content: "late"})

	if body := rec.Body.String(); body != "" {
		t.Errorf("send after close must be dropped, got %q", body)
	}
}

func TestNonContentEventsPassThrough(t *testing.T) {
	t.Parallel()

	c, rec := newTestController(t, 0)
	c.Send(stream.TypeDone, stream.DoneEvent{Sources: []stream.Source{}})
	c.Close()

	body := rec.Body.String()
	if !strings.Contains(body, "event: done") {
		t.Errorf("missing done event in %q", body)
	}
	if !strings.Contains(body, `"sources":[]`) {
		t.Errorf("done must carry sources array even when empty: %q", body)
	}
}
