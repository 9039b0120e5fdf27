package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/request"
)

// ErrNotFound is returned when no conversation has the requested id.
var ErrNotFound = errors.New("store: conversation not found")

// Conversation is everything needed to resume a chat.
type Conversation struct {
	ID         string
	Title      string
	Messages   []chat.Message
	Tools      []chat.Tool
	ToolChoice chat.ToolChoice
	Settings   request.Settings
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Summary is a row of List output.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationStore saves and restores conversations.
type ConversationStore interface {
	// Save inserts or replaces c. An empty ID is filled with a new one and
	// an empty title is derived from the first user message.
	Save(ctx context.Context, c *Conversation) error
	Load(ctx context.Context, id string) (*Conversation, error)
	// List returns summaries, most recently updated first. A limit <= 0
	// means no limit.
	List(ctx context.Context, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
}

const maxTitleLen = 60

// DeriveTitle uses the first non-empty user turn, cut to a display width.
func DeriveTitle(msgs []chat.Message) string {
	for _, m := range msgs {
		if m.Role != chat.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Content.String()), " ")
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > maxTitleLen {
			r := []rune(text)
			text = string(r[:maxTitleLen-1]) + "…"
		}
		return text
	}
	return "untitled"
}
