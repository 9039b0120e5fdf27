package stream

import (
	"context"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/request"
)

// Fragment is one chunk of a streamed completion. It carries a text delta,
// tool-call deltas, or both; absent fields are nil.
type Fragment struct {
	Content      *string         `json:"content,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ToolCallDelta is a partial tool call. A delta that opens a call carries
// ID, Type and Function.Name; continuations usually carry only arguments.
type ToolCallDelta struct {
	Index    int            `json:"index"`
	ID       *string        `json:"id,omitempty"`
	Type     *string        `json:"type,omitempty"`
	Function *FunctionDelta `json:"function,omitempty"`
}

// FunctionDelta is the function portion of a ToolCallDelta.
type FunctionDelta struct {
	Name      *string `json:"name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

// TextFragment builds a text-only fragment.
func TextFragment(s string) Fragment {
	return Fragment{Content: &s}
}

// ToolCallFragment builds a fragment carrying tool-call deltas.
func ToolCallFragment(deltas ...ToolCallDelta) Fragment {
	return Fragment{ToolCalls: deltas}
}

// OpenToolCall builds the delta that starts a new function call.
func OpenToolCall(index int, id, name, arguments string) ToolCallDelta {
	typ := chat.ToolCallTypeFunction
	return ToolCallDelta{
		Index:    index,
		ID:       &id,
		Type:     &typ,
		Function: &FunctionDelta{Name: &name, Arguments: &arguments},
	}
}

// ContinueToolCall builds an arguments-only continuation delta.
func ContinueToolCall(index int, arguments string) ToolCallDelta {
	return ToolCallDelta{Index: index, Function: &FunctionDelta{Arguments: &arguments}}
}

func (d ToolCallDelta) id() string {
	if d.ID == nil {
		return ""
	}
	return *d.ID
}

func (d ToolCallDelta) typ() string {
	if d.Type == nil {
		return ""
	}
	return *d.Type
}

func (d ToolCallDelta) name() string {
	if d.Function == nil || d.Function.Name == nil {
		return ""
	}
	return *d.Function.Name
}

func (d ToolCallDelta) arguments() string {
	if d.Function == nil || d.Function.Arguments == nil {
		return ""
	}
	return *d.Function.Arguments
}

// Completion is a non-streamed response applied in one step.
type Completion struct {
	Content      string
	ToolCalls    []chat.ToolCall
	FinishReason string
}

// Source yields fragments of one in-flight response. Next returns io.EOF
// at the end marker. A Source is finite and cannot be restarted.
type Source interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

// Response is what a Dispatcher returns: either a fragment Source or a
// complete single-shot Completion.
type Response struct {
	Stream     Source
	Completion *Completion
}

// Dispatcher sends a request descriptor to a chat-completion endpoint.
// Implementations must stop producing fragments once ctx is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *request.Descriptor) (*Response, error)
}
