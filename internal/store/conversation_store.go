package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/polyground/internal/chat"
)

// timeLayout has fixed width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteConversationStore implements ConversationStore on a DB.
type SQLiteConversationStore struct {
	db *DB
}

// NewSQLiteConversationStore creates a conversation store using the given database.
func NewSQLiteConversationStore(db *DB) *SQLiteConversationStore {
	return &SQLiteConversationStore{db: db}
}

// Save upserts the conversation row and rewrites its messages in one
// transaction.
func (s *SQLiteConversationStore) Save(ctx context.Context, c *Conversation) error {
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

	tools, err := nullJSON(c.Tools, len(c.Tools) > 0)
	if err != nil {
		return fmt.Errorf("encoding tools: %w", err)
	}
	choice, err := nullJSON(c.ToolChoice, !c.ToolChoice.IsAuto())
	if err != nil {
		return fmt.Errorf("encoding tool choice: %w", err)
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, model, tools, tool_choice, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   model = excluded.model,
		   tools = excluded.tools,
		   tool_choice = excluded.tool_choice,
		   settings = excluded.settings,
		   updated_at = excluded.updated_at`,
		c.ID, c.Title, c.Settings.Model, tools, choice, string(settings),
		c.CreatedAt.Format(timeLayout), c.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving conversation %s: %w", c.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	for i, m := range c.Messages {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("encoding message %d: %w", i, err)
		}
		calls, err := nullJSON(m.ToolCalls, len(m.ToolCalls) > 0)
		if err != nil {
			return fmt.Errorf("encoding tool calls of message %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, position, role, content, name, tool_calls, tool_call_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, i, string(m.Role), string(content), m.Name, calls, m.ToolCallID,
		)
		if err != nil {
			return fmt.Errorf("saving message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.db.log.Debug().Str("id", c.ID).Int("messages", len(c.Messages)).Msg("conversation saved")
	return nil
}

// Load returns the conversation with its messages in order.
func (s *SQLiteConversationStore) Load(ctx context.Context, id string) (*Conversation, error) {
	var (
		c                    Conversation
		tools, choice        sql.NullString
		settings             string
		createdAt, updatedAt string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, title, tools, tool_choice, settings, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &tools, &choice, &settings, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	c.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	if err := json.Unmarshal([]byte(settings), &c.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if tools.Valid {
		if err := json.Unmarshal([]byte(tools.String), &c.Tools); err != nil {
			return nil, fmt.Errorf("decoding tools: %w", err)
		}
	}
	if choice.Valid {
		if err := json.Unmarshal([]byte(choice.String), &c.ToolChoice); err != nil {
			return nil, fmt.Errorf("decoding tool choice: %w", err)
		}
	}

	c.Messages, err = s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteConversationStore) loadMessages(ctx context.Context, id string) ([]chat.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT role, content, name, tool_calls, tool_call_id
		 FROM messages WHERE conversation_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m       chat.Message
			role    string
			content string
			calls   sql.NullString
		)
		if err := rows.Scan(&role, &content, &m.Name, &calls, &m.ToolCallID); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = chat.Role(role)
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decoding message content: %w", err)
		}
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// List returns conversation summaries, newest first.
func (s *SQLiteConversationStore) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT c.id, c.title, c.model, c.updated_at,
	            (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
	          FROM conversations c ORDER BY c.updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var updatedAt string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &updatedAt, &sum.Messages); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		sum.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a conversation and its messages.
func (s *SQLiteConversationStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
