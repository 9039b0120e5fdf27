package chat

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIndexOutOfRange is returned for positional access past either end.
var ErrIndexOutOfRange = errors.New("chat: message index out of range")

// Conversation is an ordered, positionally indexed message history. It is
// safe for concurrent use; reads return deep copies.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversation creates a conversation seeded with copies of msgs.
func NewConversation(msgs ...Message) *Conversation {
	return &Conversation{messages: CloneMessages(msgs)}
}

// Append adds a message and returns its index.
func (c *Conversation) Append(m Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m.Clone())
	return len(c.messages) - 1
}

// Replace overwrites the message at index i.
func (c *Conversation) Replace(i int, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(i); err != nil {
		return err
	}
	c.messages[i] = m.Clone()
	return nil
}

// Remove deletes the message at index i, shifting later messages down.
func (c *Conversation) Remove(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(i); err != nil {
		return err
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	return nil
}

// TruncateAfter keeps messages 0..i and drops everything later.
func (c *Conversation) TruncateAfter(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(i); err != nil {
		return err
	}
	clear(c.messages[i+1:])
	c.messages = c.messages[:i+1]
	return nil
}

// At returns a copy of the message at index i.
func (c *Conversation) At(i int) (Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(i); err != nil {
		return Message{}, err
	}
	return c.messages[i].Clone(), nil
}

// Last returns a copy of the final message.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1].Clone(), true
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Messages returns a deep copy of the ordered history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CloneMessages(c.messages)
}

// Reset replaces the whole history.
func (c *Conversation) Reset(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = CloneMessages(msgs)
}

func (c *Conversation) check(i int) error {
	if i < 0 || i >= len(c.messages) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(c.messages))
	}
	return nil
}
