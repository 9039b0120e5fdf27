// Package chat holds the conversation data model shared by the request
// builder, the stream aggregator and the outer surfaces.
package chat

import "fmt"

// Role identifies the author of a message.
type Role string

// Role constants for messages.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single turn in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCallTypeFunction is the only invocation kind chat-completion APIs emit.
const ToolCallTypeFunction = "function"

// ToolCall is one invocation requested by the assistant. Arguments is
// accumulated from streamed fragments and may be invalid JSON until the
// stream completes.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its raw argument text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// SystemMessage builds a system turn.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

// UserMessage builds a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// AssistantMessage builds an assistant turn with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// ToolResultMessage answers the tool call with the given id.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: TextContent(content), ToolCallID: callID}
}

// PlaceholderMessage is the empty assistant turn appended at dispatch.
func PlaceholderMessage() Message {
	return Message{Role: RoleAssistant}
}

// InitialMessages is the conversation a fresh session starts with.
func InitialMessages() []Message {
	return []Message{
		SystemMessage("You are a helpful assistant"),
		UserMessage(""),
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Content.kind == ContentParts {
		out.Content = Content{kind: ContentParts, parts: clonedParts(m.Content.parts)}
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// Equal reports deep equality of two messages.
func (m Message) Equal(o Message) bool {
	if m.Role != o.Role || m.Name != o.Name || m.ToolCallID != o.ToolCallID {
		return false
	}
	if !m.Content.Equal(o.Content) || len(m.ToolCalls) != len(o.ToolCalls) {
		return false
	}
	for i := range m.ToolCalls {
		if m.ToolCalls[i] != o.ToolCalls[i] {
			return false
		}
	}
	return true
}

// Validate checks the role and the role-specific fields.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("chat: unknown role %q", m.Role)
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("chat: only assistant messages carry tool calls, got %s", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("chat: tool message requires tool_call_id")
	}
	return nil
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
