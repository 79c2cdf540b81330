package litellm

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/parley-ai/parley/internal/port/model"
)

// Request wire types (OpenAI chat completions format).

type wireRequest struct {
	Model       string     `json:"model"`
	Messages    []wireMsg  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	Stream      bool       `json:"stream"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

type wireMsg struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response wire types.

type wireChunk struct {
	Choices []wireChoice `json:"choices"`
}

type wireChoice struct {
	Delta        wireDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type wireDelta struct {
	Content   string          `json:"content"`
	ToolCalls []wireCallDelta `json:"tool_calls"`
}

type wireCallDelta struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Function wireCallFunction `json:"function"`
}

// callAssembler reassembles tool calls whose name and arguments arrive
// fragmented across stream chunks, keyed by call index.
type callAssembler struct {
	order []int
	parts map[int]*callParts
}

type callParts struct {
	id   string
	name string
	args strings.Builder
}

func newCallAssembler() *callAssembler {
	return &callAssembler{parts: make(map[int]*callParts)}
}

func (a *callAssembler) add(delta wireCallDelta) {
	p, ok := a.parts[delta.Index]
	if !ok {
		p = &callParts{}
		a.parts[delta.Index] = p
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		p.id = delta.ID
	}
	if delta.Function.Name != "" {
		p.name = delta.Function.Name
	}
	p.args.WriteString(delta.Function.Arguments)
}

// finish emits the assembled calls in arrival order and resets the
// assembler. Calls with unparseable arguments get empty args rather than
// being dropped: the executor reports the failure where the model can see it.
func (a *callAssembler) finish() []*model.ToolCallDelta {
	sort.Ints(a.order)

	out := make([]*model.ToolCallDelta, 0, len(a.order))
	for _, idx := range a.order {
		p := a.parts[idx]
		args := map[string]any{}
		if raw := p.args.String(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		out = append(out, &model.ToolCallDelta{
			ID:   p.id,
			Name: p.name,
			Args: args,
		})
	}

	a.order = nil
	a.parts = make(map[int]*callParts)
	return out
}
