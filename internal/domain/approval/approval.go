// Package approval defines the human-approval protocol for sensitive tools:
// the request raised at suspension time and the decision that resumes it.
package approval

import (
	"time"

	"github.com/google/uuid"
)

// Action is the kind of resume decision a human can make.
type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionHumanInput Action = "human_input"
)

// RejectedMessage is the fixed result recorded when a human rejects a tool
// call. The wrapped tool is never invoked in that case.
const RejectedMessage = "Tool execution was rejected by the user."

// Request is shown to the human when a sensitive tool suspends the workflow.
type Request struct {
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	Message     string         `json:"message"`
	AllowAccept bool           `json:"allow_accept"`
	AllowEdit   bool           `json:"allow_edit"`
	AllowReject bool           `json:"allow_reject"`
}

// Decision is the single input that resumes a suspended workflow.
type Decision struct {
	Action Action         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`  // replacement args on approve
	Value  string         `json:"value,omitempty"` // answer text on human_input
}

// Normalize maps any unknown or garbled action to reject. Fail closed:
// only an explicit, well-formed approval may run the tool.
func (d Decision) Normalize() Decision {
	switch d.Action {
	case ActionApprove, ActionHumanInput:
		return d
	case ActionReject:
		return Decision{Action: ActionReject}
	default:
		return Decision{Action: ActionReject}
	}
}

// Suspension marks the point where the workflow paused for a decision.
// The interrupt ID correlates exactly one suspended tool invocation with
// the decision that later resumes it.
type Suspension struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Request   Request   `json:"request"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSuspension creates a suspension for the given tool invocation.
func NewSuspension(threadID string, req Request) *Suspension {
	return &Suspension{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
}
