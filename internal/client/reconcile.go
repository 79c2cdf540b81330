package client

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/domain/stream"
	"github.com/parley-ai/parley/internal/domain/toolcall"
)

// Status is the client-side state of one tool-call record.
type Status string

const (
	StatusStarting          Status = "starting"
	StatusApproved          Status = "approved"
	StatusRunning           Status = "running"
	StatusParallelExecuting Status = "parallel_executing"
	StatusPendingApproval   Status = "pending_approval"
	StatusRejected          Status = "rejected"
	StatusError             Status = "error"
	StatusCompleted         Status = "completed"
	StatusParallelCompleted Status = "parallel_completed"
)

// rank orders the status lattice. A merge never moves a record to a status
// of lower rank.
func rank(s Status) int {
	switch s {
	case StatusCompleted, StatusParallelCompleted:
		return 5
	case StatusRejected, StatusError:
		return 4
	case StatusPendingApproval:
		return 3
	case StatusRunning, StatusParallelExecuting:
		return 2
	case StatusApproved:
		return 1
	default:
		return 0
	}
}

// Terminal reports whether a status can never change again.
func Terminal(s Status) bool { return rank(s) >= 4 }

// genericNames are placeholder tool names some reconnect paths emit; they
// match any record during adoption.
var genericNames = map[string]bool{"": true, "tool": true, "unknown": true}

// Record is one authoritative tool-call tile.
type Record struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Args            map[string]any `json:"args,omitempty"`
	Status          Status         `json:"status"`
	Result          string         `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	ParallelGroupID string         `json:"parallel_group_id,omitempty"`
	seq             int            // recency for adoption ordering
}

// Engine merges events from concurrent stream connections into one
// duplicate-free table of tool-call records. Safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	records  map[string]*Record
	order    []string // insertion order of record ids
	inFlight map[string]bool
	seq      int
}

// NewEngine creates an empty reconciliation engine.
func NewEngine() *Engine {
	return &Engine{
		records:  make(map[string]*Record),
		inFlight: make(map[string]bool),
	}
}

// Consume reads one stream connection to completion, applying every event.
// Malformed events are logged and skipped, never fatal.
func (e *Engine) Consume(r io.Reader) error {
	sc := NewScanner(r)
	for {
		ev, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		e.Apply(ev)
	}
}

// Apply merges one event into the table. Unknown event types are ignored.
func (e *Engine) Apply(ev Event) {
	switch stream.Type(ev.Type) {
	case stream.TypeToolCall:
		var p stream.ToolCallEvent
		if !decode(ev.Data, &p) {
			return
		}
		e.applyToolCall(p)

	case stream.TypeToolResult:
		var p stream.ToolResultEvent
		if !decode(ev.Data, &p) {
			return
		}
		e.applyToolResult(p)

	case stream.TypeHumanInputRequired:
		var p stream.HumanInputRequiredEvent
		if !decode(ev.Data, &p) {
			return
		}
		e.applyPendingApproval(p)

	case stream.TypeParallelExecutionStart:
		var p stream.ParallelPhaseEvent
		if !decode(ev.Data, &p) {
			return
		}
		e.applyParallelPhase(p)
	}
}

func decode(data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Debug("skipping malformed stream event", "error", err)
		return false
	}
	return true
}

// applyToolCall upserts a record. An unseen id first tries to adopt an
// existing non-terminal record (by name, or the most recent one when the
// incoming name is a placeholder), rewriting that record's id instead of
// inserting a duplicate tile. An id rewrite marks a fresh execution
// instance, so the incoming status replaces the adopted one outright; the
// lattice only arbitrates merges on an already-known id.
func (e *Engine) applyToolCall(p stream.ToolCallEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status(p.Status)
	if status == "" {
		status = StatusStarting
	}

	rec, ok := e.records[p.ID]
	adopted := false
	if !ok {
		if prior := e.adopt(p.Name); prior != nil {
			e.rewriteID(prior, p.ID)
			rec = prior
			adopted = true
			if p.Name != "" && !genericNames[p.Name] {
				rec.Name = p.Name
			}
		} else {
			rec = &Record{ID: p.ID, Name: p.Name, Args: p.Args}
			e.records[p.ID] = rec
			e.order = append(e.order, p.ID)
		}
	}

	e.seq++
	rec.seq = e.seq
	if p.Args != nil {
		rec.Args = p.Args
	}
	if adopted {
		rec.Status = status
	} else {
		e.bump(rec, status)
	}
	e.regroup()
}

func (e *Engine) applyToolResult(p stream.ToolResultEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[p.ID]
	if !ok {
		if rec = e.adopt(p.Name); rec != nil {
			e.rewriteID(rec, p.ID)
		} else {
			rec = &Record{ID: p.ID, Name: p.Name}
			e.records[p.ID] = rec
			e.order = append(e.order, p.ID)
		}
	}

	e.seq++
	rec.seq = e.seq
	rec.Result = p.Result
	rec.Error = p.Error
	e.bump(rec, resultStatus(p, rec))
	e.regroup()
}

func resultStatus(p stream.ToolResultEvent, rec *Record) Status {
	switch p.Status {
	case toolcall.StatusSuccess:
		if rec.ParallelGroupID != "" {
			return StatusParallelCompleted
		}
		return StatusCompleted
	case toolcall.StatusSkipped:
		return StatusRejected
	default:
		return StatusError
	}
}

// applyPendingApproval marks the suspended call by name: the interrupt does
// not carry the model's call id.
func (e *Engine) applyPendingApproval(p stream.HumanInputRequiredEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.order) - 1; i >= 0; i-- {
		rec := e.records[e.order[i]]
		if rec.Name == p.ToolName && !Terminal(rec.Status) {
			e.seq++
			rec.seq = e.seq
			e.bump(rec, StatusPendingApproval)
			return
		}
	}
}

// applyParallelPhase moves named non-terminal records into the executing
// state, adopting the server's group id.
func (e *Engine) applyParallelPhase(p stream.ParallelPhaseEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, name := range p.Tools {
		for i := len(e.order) - 1; i >= 0; i-- {
			rec := e.records[e.order[i]]
			if rec.Name != name || Terminal(rec.Status) {
				continue
			}
			rec.ParallelGroupID = p.GroupID
			e.bump(rec, StatusParallelExecuting)
			break
		}
	}
}

// bump moves a record up the lattice; lower-ranked statuses never win.
func (e *Engine) bump(rec *Record, s Status) {
	if rank(s) >= rank(rec.Status) {
		rec.Status = s
	}
}

// adopt finds the record an unseen id should take over: a non-terminal
// record with a matching name, or — when the incoming name is a generic
// placeholder — the most recent non-terminal record of any name.
func (e *Engine) adopt(name string) *Record {
	var newest *Record
	for _, id := range e.order {
		rec := e.records[id]
		if Terminal(rec.Status) {
			continue
		}
		if genericNames[name] {
			if newest == nil || rec.seq >= newest.seq {
				newest = rec
			}
			continue
		}
		if rec.Name == name {
			if newest == nil || rec.seq >= newest.seq {
				newest = rec
			}
		}
	}
	return newest
}

func (e *Engine) rewriteID(rec *Record, newID string) {
	delete(e.records, rec.ID)
	for i, id := range e.order {
		if id == rec.ID {
			e.order[i] = newID
			break
		}
	}
	rec.ID = newID
	e.records[newID] = rec
}

// regroup maintains the shared parallel group: the first time two or more
// ungrouped calls are simultaneously starting they get a common group id,
// and a group dissolves once no member is non-terminal.
func (e *Engine) regroup() {
	var starting []*Record
	for _, id := range e.order {
		rec := e.records[id]
		if rec.Status == StatusStarting && rec.ParallelGroupID == "" {
			starting = append(starting, rec)
		}
	}
	if len(starting) >= 2 {
		groupID := uuid.NewString()
		for _, rec := range starting {
			rec.ParallelGroupID = groupID
		}
	}

	live := make(map[string]bool)
	for _, id := range e.order {
		rec := e.records[id]
		if rec.ParallelGroupID != "" && !Terminal(rec.Status) {
			live[rec.ParallelGroupID] = true
		}
	}
	for _, id := range e.order {
		rec := e.records[id]
		if rec.ParallelGroupID != "" && !live[rec.ParallelGroupID] {
			rec.ParallelGroupID = ""
		}
	}
}

// Acquire claims a call id for one open resume connection. It returns false
// while another connection owns the id.
func (e *Engine) Acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[id] {
		return false
	}
	e.inFlight[id] = true
	return true
}

// Release returns a call id claimed by Acquire.
func (e *Engine) Release(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

// Records returns the table in insertion order.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.records[id])
	}
	return out
}

// Get returns one record by id.
func (e *Engine) Get(id string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
