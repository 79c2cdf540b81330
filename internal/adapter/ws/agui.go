// AG-UI (Agent-User Interaction) protocol translation. These follow the
// CopilotKit AG-UI specification for agent <-> frontend streaming. When
// enabled, AG-UI messages are emitted alongside native events so AG-UI
// frontends can observe threads without a custom client.
package ws

import (
	"encoding/json"

	"github.com/parley-ai/parley/internal/domain/stream"
)

// AG-UI event type constants.
const (
	AGUIRunStarted        = "agui.run_started"
	AGUIRunFinished       = "agui.run_finished"
	AGUIRunError          = "agui.run_error"
	AGUITextMessage       = "agui.text_message"
	AGUIToolCall          = "agui.tool_call"
	AGUIToolResult        = "agui.tool_result"
	AGUIStepStarted       = "agui.step_started"
	AGUIStepFinished      = "agui.step_finished"
	AGUIPermissionRequest = "agui.permission_request"
)

// AGUITextMessageEvent carries a text chunk from the agent.
type AGUITextMessageEvent struct {
	RunID   string `json:"run_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AGUIToolCallEvent signals a tool invocation by the agent.
type AGUIToolCallEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Args   string `json:"args"` // JSON-encoded arguments
}

// AGUIToolResultEvent carries the result of a tool invocation.
type AGUIToolResultEvent struct {
	RunID  string `json:"run_id"`
	CallID string `json:"call_id"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// AGUIPermissionRequestEvent signals that a tool call requires user approval.
type AGUIPermissionRequestEvent struct {
	RunID   string `json:"run_id"`
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Message string `json:"message,omitempty"`
}

// AGUIStepEvent marks the start or end of a named workflow step.
type AGUIStepEvent struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// AGUIRunFinishedEvent signals that a turn has completed.
type AGUIRunFinishedEvent struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// translateAGUI maps one native thread event onto zero or more AG-UI
// messages. The thread ID doubles as the AG-UI run ID.
func translateAGUI(threadID string, t stream.Type, payload any) []Message {
	switch t {
	case stream.TypeContent:
		ev, ok := payload.(stream.ContentEvent)
		if !ok {
			return nil
		}
		return aguiMessages(threadID, AGUITextMessage, AGUITextMessageEvent{
			RunID:   threadID,
			Role:    "assistant",
			Content: ev.Content,
		})

	case stream.TypeToolCall:
		ev, ok := payload.(stream.ToolCallEvent)
		if !ok {
			return nil
		}
		args, _ := json.Marshal(ev.Args)
		return aguiMessages(threadID, AGUIToolCall, AGUIToolCallEvent{
			RunID:  threadID,
			CallID: ev.ID,
			Name:   ev.Name,
			Args:   string(args),
		})

	case stream.TypeToolResult:
		ev, ok := payload.(stream.ToolResultEvent)
		if !ok {
			return nil
		}
		return aguiMessages(threadID, AGUIToolResult, AGUIToolResultEvent{
			RunID:  threadID,
			CallID: ev.ID,
			Result: ev.Result,
			Error:  ev.Error,
		})

	case stream.TypeHumanInputRequired:
		ev, ok := payload.(stream.HumanInputRequiredEvent)
		if !ok {
			return nil
		}
		return aguiMessages(threadID, AGUIPermissionRequest, AGUIPermissionRequestEvent{
			RunID:   threadID,
			CallID:  ev.InterruptID,
			Tool:    ev.ToolName,
			Message: ev.Message,
		})

	case stream.TypePlanStart:
		return aguiMessages(threadID, AGUIRunStarted, AGUIStepEvent{RunID: threadID, Name: "plan"})

	case stream.TypeReflectionStart:
		return aguiMessages(threadID, AGUIStepStarted, AGUIStepEvent{RunID: threadID, Name: "reflect"})

	case stream.TypeReflection:
		return aguiMessages(threadID, AGUIStepFinished, AGUIStepEvent{RunID: threadID, Name: "reflect", Status: "completed"})

	case stream.TypeDone:
		return aguiMessages(threadID, AGUIRunFinished, AGUIRunFinishedEvent{RunID: threadID, Status: "completed"})

	case stream.TypeError:
		return aguiMessages(threadID, AGUIRunError, AGUIRunFinishedEvent{RunID: threadID, Status: "failed"})
	}
	return nil
}

func aguiMessages(threadID, msgType string, payload any) []Message {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return []Message{{Type: msgType, ThreadID: threadID, Payload: json.RawMessage(data)}}
}
