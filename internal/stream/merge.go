package stream

import "github.com/soyeahso/polyground/internal/chat"

// applyFragment folds one fragment into msg. The text delta is applied
// first, then tool-call deltas in array order.
func applyFragment(msg *chat.Message, f Fragment) error {
	if f.Content != nil && *f.Content != "" {
		msg.Content = msg.Content.AppendText(*f.Content)
	}
	for _, d := range f.ToolCalls {
		if err := mergeToolCall(msg, d); err != nil {
			return err
		}
	}
	return nil
}

// mergeToolCall applies one tool-call delta. A delta whose id matches no
// existing call opens a new call and must name its type and function.
// Every other delta is a continuation: its argument text is appended to
// the last call only, even when its id names an earlier call.
func mergeToolCall(msg *chat.Message, d ToolCallDelta) error {
	id := d.id()
	if id != "" && !hasToolCall(msg.ToolCalls, id) {
		if d.typ() == "" || d.name() == "" {
			return &MalformedFragmentError{
				Index:  d.Index,
				ID:     id,
				Reason: "new tool call is missing its type or function name",
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
			ID:   id,
			Type: d.typ(),
			Function: chat.FunctionCall{
				Name:      d.name(),
				Arguments: d.arguments(),
			},
		})
		return nil
	}

	if len(msg.ToolCalls) == 0 {
		return &MalformedFragmentError{
			Index:  d.Index,
			ID:     id,
			Reason: "continuation arrived before any tool call was opened",
		}
	}
	last := &msg.ToolCalls[len(msg.ToolCalls)-1]
	last.Function.Arguments += d.arguments()
	return nil
}

func hasToolCall(calls []chat.ToolCall, id string) bool {
	for _, c := range calls {
		if c.ID == id {
			return true
		}
	}
	return false
}
