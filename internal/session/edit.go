package session

import (
	"github.com/soyeahso/polyground/internal/chat"
)

// edit runs fn under the session lock unless a request is in flight.
func (s *Session) edit(fn func(conv *chat.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyLocked() {
		return ErrBusy
	}
	return fn(s.conv)
}

// DeleteMessage removes the message at i.
func (s *Session) DeleteMessage(i int) error {
	return s.edit(func(conv *chat.Conversation) error {
		return conv.Remove(i)
	})
}

// DeleteAfter keeps messages 0..i and drops the rest.
func (s *Session) DeleteAfter(i int) error {
	return s.edit(func(conv *chat.Conversation) error {
		return conv.TruncateAfter(i)
	})
}

// ReplaceMessages swaps the whole conversation for msgs, for example to
// undo edits whose request was rejected.
func (s *Session) ReplaceMessages(msgs []chat.Message) error {
	return s.edit(func(conv *chat.Conversation) error {
		conv.Reset(chat.CloneMessages(msgs)...)
		return nil
	})
}

// AddUserMessage fills a trailing empty user turn with text, or appends a
// new user turn. It returns the index of the message.
func (s *Session) AddUserMessage(text string) (int, error) {
	var index int
	err := s.edit(func(conv *chat.Conversation) error {
		if last, ok := conv.Last(); ok && last.Role == chat.RoleUser && last.Content.IsEmpty() {
			index = conv.Len() - 1
			last.Content = chat.TextContent(text)
			return conv.Replace(index, last)
		}
		index = conv.Append(chat.UserMessage(text))
		return nil
	})
	return index, err
}

// AddToolResult appends the result of the tool call with the given id.
func (s *Session) AddToolResult(callID, content string) (int, error) {
	var index int
	err := s.edit(func(conv *chat.Conversation) error {
		index = conv.Append(chat.ToolResultMessage(callID, content))
		return nil
	})
	return index, err
}

// EditMessage replaces the text of message i, keeping its role.
func (s *Session) EditMessage(i int, text string) error {
	return s.edit(func(conv *chat.Conversation) error {
		m, err := conv.At(i)
		if err != nil {
			return err
		}
		m.Content = chat.TextContent(text)
		return conv.Replace(i, m)
	})
}

// AttachImage adds an image to message i, promoting its content to parts.
func (s *Session) AttachImage(i int, url, detail string) error {
	return s.edit(func(conv *chat.Conversation) error {
		m, err := conv.At(i)
		if err != nil {
			return err
		}
		m.Content = m.Content.WithImage(url, detail)
		return conv.Replace(i, m)
	})
}

// SetSystemPrompt replaces the leading system message, or inserts one.
func (s *Session) SetSystemPrompt(text string) error {
	return s.edit(func(conv *chat.Conversation) error {
		if first, err := conv.At(0); err == nil && first.Role == chat.RoleSystem {
			first.Content = chat.TextContent(text)
			return conv.Replace(0, first)
		}
		conv.Reset(append([]chat.Message{chat.SystemMessage(text)}, conv.Messages()...)...)
		return nil
	})
}
