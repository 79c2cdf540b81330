package client

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/domain/stream"
	"github.com/parley-ai/parley/internal/domain/toolcall"
)

func toolCall(t *testing.T, e *Engine, id, name, status string) {
	t.Helper()
	data, _ := json.Marshal(stream.ToolCallEvent{ID: id, Name: name, Status: status})
	e.Apply(Event{Type: string(stream.TypeToolCall), Data: data})
}

func toolResult(t *testing.T, e *Engine, id, name string, status toolcall.Status, result string) {
	t.Helper()
	data, _ := json.Marshal(stream.ToolResultEvent{ID: id, Name: name, Status: status, Result: result})
	e.Apply(Event{Type: string(stream.TypeToolResult), Data: data})
}

func single(t *testing.T, e *Engine) Record {
	t.Helper()
	recs := e.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1: %+v", len(recs), recs)
	}
	return recs[0]
}

func TestMergeIsMonotonic(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "c1", "web_search", "starting")
	toolResult(t, e, "c1", "web_search", toolcall.StatusSuccess, "found")

	// A late replay from a second connection must not regress the status.
	toolCall(t, e, "c1", "web_search", "starting")

	rec := single(t, e)
	if rec.Status != StatusCompleted || rec.Result != "found" {
		t.Errorf("record = %+v", rec)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	for range 3 {
		toolCall(t, e, "c1", "web_search", "running")
	}
	rec := single(t, e)
	if rec.Status != StatusRunning {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestAdoptionByNameRewritesID(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "old-id", "send_email", "pending_approval")

	// After the approval round-trip the server assigns a fresh id.
	toolCall(t, e, "new-id", "send_email", "approved")

	rec := single(t, e)
	if rec.ID != "new-id" {
		t.Errorf("id = %s, want new-id", rec.ID)
	}
	// The fresh id marks a new execution instance: its status applies
	// outright, even though pending_approval outranks approved.
	if rec.Status != StatusApproved {
		t.Errorf("status = %s, want approved", rec.Status)
	}
	if _, ok := e.Get("old-id"); ok {
		t.Error("old id must be gone")
	}
}

func TestAdoptionAppliesIncomingStatus(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "a1", "send_email", "pending_approval")

	// The server re-announces the approved call under a fresh id, already
	// running. The adopted tile must carry the new id and the new status;
	// the lattice only applies to merges on the same id.
	toolCall(t, e, "b2", "send_email", "running")

	rec := single(t, e)
	if rec.ID != "b2" {
		t.Errorf("id = %s, want b2", rec.ID)
	}
	if rec.Status != StatusRunning {
		t.Errorf("status = %s, want running", rec.Status)
	}

	// A replay on the now-known id still goes through the lattice.
	toolCall(t, e, "b2", "send_email", "starting")
	if rec := single(t, e); rec.Status != StatusRunning {
		t.Errorf("same-id replay regressed status to %s", rec.Status)
	}
}

func TestAdoptionGenericPlaceholderPicksMostRecent(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "a", "read_file", "completed") // terminal, not adoptable
	toolResult(t, e, "a", "read_file", toolcall.StatusSuccess, "x")
	toolCall(t, e, "b", "web_search", "starting")
	toolCall(t, e, "c", "fetch_page", "starting")

	toolCall(t, e, "fresh", "tool", "running")

	recs := e.Records()
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3 (placeholder adopted, no new tile)", len(recs))
	}
	rec, ok := e.Get("fresh")
	if !ok {
		t.Fatal("adopted record should carry the new id")
	}
	if rec.Name != "fetch_page" {
		t.Errorf("adopted = %+v, want most recent non-terminal", rec)
	}
}

func TestNoAdoptionAcrossTerminalRecords(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "a", "web_search", "starting")
	toolResult(t, e, "a", "web_search", toolcall.StatusError, "")

	toolCall(t, e, "b", "web_search", "starting")

	if len(e.Records()) != 2 {
		t.Errorf("terminal record must not be adopted: %+v", e.Records())
	}
}

func TestRejectionAndErrorStatuses(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "c1", "send_email", "starting")
	toolResult(t, e, "c1", "send_email", toolcall.StatusSkipped, "")
	if rec := single(t, e); rec.Status != StatusRejected {
		t.Errorf("skipped result should map to rejected, got %s", rec.Status)
	}

	e2 := NewEngine()
	toolCall(t, e2, "c2", "read_file", "starting")
	toolResult(t, e2, "c2", "read_file", toolcall.StatusTimeout, "")
	if rec := single(t, e2); rec.Status != StatusError {
		t.Errorf("timeout result should map to error, got %s", rec.Status)
	}
}

func TestParallelGroupAssignedAndCleared(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "a", "search_mail", "starting")
	toolCall(t, e, "b", "search_web", "starting")

	recs := e.Records()
	if recs[0].ParallelGroupID == "" || recs[0].ParallelGroupID != recs[1].ParallelGroupID {
		t.Fatalf("simultaneous starting calls must share a group: %+v", recs)
	}

	toolResult(t, e, "a", "search_mail", toolcall.StatusSuccess, "x")
	if rec, _ := e.Get("a"); rec.Status != StatusParallelCompleted {
		t.Errorf("grouped success should be parallel_completed, got %s", rec.Status)
	}
	// One member still live: group persists.
	if rec, _ := e.Get("b"); rec.ParallelGroupID == "" {
		t.Error("group cleared too early")
	}

	toolResult(t, e, "b", "search_web", toolcall.StatusSuccess, "y")
	for _, rec := range e.Records() {
		if rec.ParallelGroupID != "" {
			t.Errorf("group should dissolve once all members are terminal: %+v", rec)
		}
	}
}

func TestPendingApprovalMarkedByName(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	toolCall(t, e, "c1", "send_email", "starting")

	data, _ := json.Marshal(stream.HumanInputRequiredEvent{InterruptID: "i1", ToolName: "send_email"})
	e.Apply(Event{Type: string(stream.TypeHumanInputRequired), Data: data})

	if rec := single(t, e); rec.Status != StatusPendingApproval {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestInFlightGuard(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	if !e.Acquire("c1") {
		t.Fatal("first acquire should win")
	}
	if e.Acquire("c1") {
		t.Error("second acquire must be refused while owned")
	}
	e.Release("c1")
	if !e.Acquire("c1") {
		t.Error("acquire after release should win")
	}
}

func TestConsumeWireStream(t *testing.T) {
	t.Parallel()

	wire := strings.Join([]string{
		"event: tool_call",
		`data: {"id":"c1","name":"web_search","status":"starting"}`,
		"",
		"event: not-json",
		"data: {{{{",
		"",
		"event: tool_result",
		`data: {"id":"c1","name":"web_search","status":"success","result":"found"}`,
		"",
	}, "\n")

	e := NewEngine()
	if err := e.Consume(strings.NewReader(wire)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	rec := single(t, e)
	if rec.Status != StatusCompleted || rec.Result != "found" {
		t.Errorf("record = %+v", rec)
	}
}
