// Package client consumes the server's event stream and reconciles tool-call
// records from any number of concurrent connections into one authoritative
// view. It is the consumer-side counterpart of the SSE controller.
package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Event is one parsed push event.
type Event struct {
	Type string
	Data json.RawMessage
}

// Scanner reads newline-delimited `event:`/`data:` pairs. It is tolerant by
// design: comment lines and unknown fields are skipped, events without a
// type default to "message", and a stray data line never aborts the stream.
type Scanner struct {
	s *bufio.Scanner
}

// NewScanner wraps a stream body.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Scanner{s: s}
}

// Next returns the next complete event, or io.EOF when the stream ends.
func (sc *Scanner) Next() (Event, error) {
	ev := Event{Type: "message"}
	var data []string
	seen := false

	for sc.s.Scan() {
		line := strings.TrimRight(sc.s.Text(), "\r")

		if line == "" {
			if seen {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}

	if err := sc.s.Err(); err != nil {
		return Event{}, err
	}
	if seen {
		ev.Data = json.RawMessage(strings.Join(data, "\n"))
		return ev, nil
	}
	return Event{}, io.EOF
}
