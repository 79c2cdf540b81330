package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parley-ai/parley/internal/domain/approval"
	"github.com/parley-ai/parley/internal/domain/toolcall"
	"github.com/parley-ai/parley/internal/logger"
	"github.com/parley-ai/parley/internal/port/tool"
)

// ErrUnknownInterrupt is returned when a decision arrives for an interrupt
// that does not exist or was already consumed.
var ErrUnknownInterrupt = errors.New("unknown or already resolved interrupt")

// SuspensionError is the control-flow signal a gated tool raises instead of
// running. It is not a failure: callers detect it with errors.As and park
// the workflow until a decision arrives.
type SuspensionError struct {
	Suspension *approval.Suspension
}

func (e *SuspensionError) Error() string {
	return fmt.Sprintf("tool %s suspended pending approval (interrupt %s)",
		e.Suspension.Request.ToolName, e.Suspension.ID)
}

// Gate suspends sensitive tool invocations until a human decides. Each
// suspension is identified by an interrupt ID and consumed by exactly one
// decision; anything that is not an explicit approval rejects.
type Gate struct {
	pending sync.Map // interrupt ID -> *pendingApproval
}

type pendingApproval struct {
	suspension *approval.Suspension
	tool       tool.Tool
	args       map[string]any
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{}
}

// Wrap returns a tool that suspends instead of executing. Wrapping is
// idempotent: an already gated tool is returned unchanged, so a tool can
// never suspend twice for one invocation.
func (g *Gate) Wrap(t tool.Tool) tool.Tool {
	if _, ok := t.(*gatedTool); ok {
		return t
	}
	return &gatedTool{gate: g, inner: t}
}

// Resume consumes the decision for an interrupt. Approve invokes the held
// tool (with replacement args if the decision carries any), reject records
// the fixed rejection message without invoking it, and human_input returns
// the human's answer as the tool result. The interrupt is consumed whatever
// the outcome; a second decision for the same ID gets ErrUnknownInterrupt.
func (g *Gate) Resume(ctx context.Context, interruptID string, d approval.Decision) (toolcall.Result, error) {
	v, ok := g.pending.LoadAndDelete(interruptID)
	if !ok {
		return toolcall.Result{}, fmt.Errorf("resume interrupt %s: %w", interruptID, ErrUnknownInterrupt)
	}
	p := v.(*pendingApproval)
	d = d.Normalize()

	res := toolcall.Result{Name: p.tool.Name()}

	switch d.Action {
	case approval.ActionApprove:
		args := p.args
		if d.Args != nil {
			args = d.Args
		}
		start := time.Now()
		out, err := p.tool.Invoke(ctx, args)
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		if err != nil {
			res.Status = toolcall.StatusError
			res.Error = err.Error()
		} else {
			res.Status = toolcall.StatusSuccess
			res.Result = out
		}

	case approval.ActionHumanInput:
		res.Status = toolcall.StatusSuccess
		res.Result = d.Value

	default:
		res.Status = toolcall.StatusSkipped
		res.Error = approval.RejectedMessage
	}

	return res, nil
}

// Pending returns the suspension for an interrupt without consuming it.
func (g *Gate) Pending(interruptID string) (*approval.Suspension, bool) {
	v, ok := g.pending.Load(interruptID)
	if !ok {
		return nil, false
	}
	return v.(*pendingApproval).suspension, true
}

// gatedTool is the marker type that makes Wrap idempotent.
type gatedTool struct {
	gate  *Gate
	inner tool.Tool
}

func (t *gatedTool) Name() string           { return t.inner.Name() }
func (t *gatedTool) Description() string    { return t.inner.Description() }
func (t *gatedTool) Schema() map[string]any { return t.inner.Schema() }

// Invoke never runs the wrapped tool. It registers a suspension and raises
// SuspensionError carrying the interrupt the decision must reference.
func (t *gatedTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	susp := approval.NewSuspension(logger.ThreadID(ctx), approval.Request{
		ToolName:    t.inner.Name(),
		Args:        args,
		Message:     fmt.Sprintf("Tool %q requires approval before it runs.", t.inner.Name()),
		AllowAccept: true,
		AllowEdit:   true,
		AllowReject: true,
	})
	t.gate.pending.Store(susp.ID, &pendingApproval{
		suspension: susp,
		tool:       t.inner,
		args:       args,
	})
	return "", &SuspensionError{Suspension: susp}
}
