package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/polyground/internal/chat"
)

// MemoryConversationStore keeps conversations for the life of the process.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewMemoryConversationStore creates an empty in-memory store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{convs: make(map[string]*Conversation)}
}

func (m *MemoryConversationStore) Save(_ context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Title == "" {
		c.Title = DeriveTitle(c.Messages)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[c.ID] = copyConversation(c)
	return nil
}

func (m *MemoryConversationStore) Load(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

func (m *MemoryConversationStore) List(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, Summary{
			ID:        c.ID,
			Title:     c.Title,
			Model:     c.Settings.Model,
			Messages:  len(c.Messages),
			UpdatedAt: c.UpdatedAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryConversationStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return ErrNotFound
	}
	delete(m.convs, id)
	return nil
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.Messages = chat.CloneMessages(c.Messages)
	out.Tools = append([]chat.Tool(nil), c.Tools...)
	out.Settings = c.Settings.Clone()
	return &out
}
