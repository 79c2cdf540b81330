// Package thread defines the durable state of one conversation: its ordered
// message history and the planner task list. A thread is checkpointed
// in-memory and owned exclusively by the workflow.
package thread

import (
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/domain/task"
)

// Role tags a message with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the assistant within a message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is one entry in the conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on RoleTool results
	Name       string     `json:"name,omitempty"`         // tool name on RoleTool results
}

// Thread is the checkpointed state of one conversation.
type Thread struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id,omitempty"`
	Messages  []Message   `json:"messages"`
	Tasks     []task.Task `json:"tasks"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// New creates an empty thread for the given user.
func New(userID string) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message and bumps the update timestamp.
func (t *Thread) Append(msgs ...Message) {
	t.Messages = append(t.Messages, msgs...)
	t.UpdatedAt = time.Now().UTC()
}

// EnsureSystemFirst enforces the invariant that the first message is the
// system message. History can be mutated between turns, so this runs on
// every agent entry, not just at thread creation: an out-of-place system
// message is relocated to the front, and a missing one is synthesized from
// fallbackPrompt. Returns whether a repair was needed.
func (t *Thread) EnsureSystemFirst(fallbackPrompt string) bool {
	if len(t.Messages) > 0 && t.Messages[0].Role == RoleSystem {
		return false
	}

	for i, m := range t.Messages {
		if m.Role != RoleSystem {
			continue
		}
		// Relocate the stray system message to the front.
		sys := t.Messages[i]
		t.Messages = append(t.Messages[:i], t.Messages[i+1:]...)
		t.Messages = append([]Message{sys}, t.Messages...)
		t.UpdatedAt = time.Now().UTC()
		return true
	}

	t.Messages = append([]Message{{Role: RoleSystem, Content: fallbackPrompt}}, t.Messages...)
	t.UpdatedAt = time.Now().UTC()
	return true
}

// LastAssistant returns the most recent assistant message, or nil.
func (t *Thread) LastAssistant() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleAssistant {
			return &t.Messages[i]
		}
	}
	return nil
}

// TailWindow returns up to n trailing messages, skipping the system message.
func (t *Thread) TailWindow(n int) []Message {
	msgs := t.Messages
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		msgs = msgs[1:]
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
