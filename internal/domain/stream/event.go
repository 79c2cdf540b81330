// Package stream defines the typed push-event protocol between the workflow
// and its clients, and the Sink through which every workflow node emits
// progress. Sinks are passed explicitly into each node; there is no
// process-wide "current stream" singleton.
package stream

import (
	"github.com/parley-ai/parley/internal/domain/policy"
	"github.com/parley-ai/parley/internal/domain/task"
	"github.com/parley-ai/parley/internal/domain/toolcall"
)

// Type identifies the kind of push event.
type Type string

const (
	TypeContent                     Type = "content"
	TypeToolCall                    Type = "tool_call"
	TypeToolResult                  Type = "tool_result"
	TypeHumanInputRequired          Type = "human_input_required"
	TypeParallelExecutionDetected   Type = "parallel_execution_detected"
	TypeParallelExecutionStart      Type = "parallel_execution_start"
	TypeParallelExecutionComplete   Type = "parallel_execution_complete"
	TypeSequentialExecutionRequired Type = "sequential_execution_required"
	TypePlanStart                   Type = "plan_start"
	TypePlan                        Type = "plan"
	TypeReflectionStart             Type = "reflection_start"
	TypeReflection                  Type = "reflection"
	TypeDone                        Type = "done"
	TypeError                       Type = "error"
)

// Sink receives typed workflow events. Implementations must tolerate sends
// after close by dropping them silently, and must be safe for use from the
// single workflow goroutine that owns them.
type Sink interface {
	Send(t Type, payload any)
	Close()
}

// Source is a citation record gathered during a turn and delivered with done.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// ContentEvent carries one chunk of assistant text.
type ContentEvent struct {
	Content string `json:"content"`
}

// ToolCallEvent announces a requested tool invocation, tagged with its
// capabilities so clients can render approval state immediately.
type ToolCallEvent struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Args             map[string]any `json:"args,omitempty"`
	Status           string         `json:"status"`
	ParallelSafe     bool           `json:"parallel_safe"`
	RequiresApproval bool           `json:"requires_approval"`
	ParallelGroupID  string         `json:"parallel_group_id,omitempty"`
}

// ToolResultEvent carries the terminal outcome of one tool invocation.
type ToolResultEvent struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Status          toolcall.Status `json:"status"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}

// HumanInputRequiredEvent signals that the workflow suspended pending a
// human decision.
type HumanInputRequiredEvent struct {
	InterruptID string         `json:"interrupt_id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args,omitempty"`
	Message     string         `json:"message"`
	AllowAccept bool           `json:"allow_accept"`
	AllowEdit   bool           `json:"allow_edit"`
	AllowReject bool           `json:"allow_reject"`
}

// BatchModeEvent announces whether a multi-call batch runs in parallel or
// sequentially, and why. Used for parallel_execution_detected and
// sequential_execution_required.
type BatchModeEvent struct {
	Count  int    `json:"count"`
	Reason string `json:"reason"`
}

// ParallelPhaseEvent marks the start or completion of one concurrent batch.
type ParallelPhaseEvent struct {
	GroupID string   `json:"group_id"`
	Tools   []string `json:"tools"`
}

// PlanEvent carries the planner's task breakdown.
type PlanEvent struct {
	Tasks []task.Task `json:"tasks"`
}

// ReflectionEvent carries the reflector's verdict and the updated task list.
type ReflectionEvent struct {
	Verdict  string      `json:"verdict"`
	Tasks    []task.Task `json:"tasks"`
	Complete bool        `json:"complete"`
}

// DoneEvent terminates a successful turn and always carries the sources
// accumulated during it (possibly empty, never omitted).
type DoneEvent struct {
	Sources []Source `json:"sources"`
}

// ErrorEvent terminates a failed turn.
type ErrorEvent struct {
	Error string `json:"error"`
}

// CapabilityTag is a convenience constructor for ToolCallEvent capability
// fields from a classifier decision.
func CapabilityTag(ev *ToolCallEvent, cap policy.Capability) {
	ev.ParallelSafe = cap.ParallelSafe
	ev.RequiresApproval = cap.RequiresApproval
}
