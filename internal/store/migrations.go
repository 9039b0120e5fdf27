package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL DEFAULT '',
				model       TEXT NOT NULL DEFAULT '',
				tools       TEXT,
				tool_choice TEXT,
				settings    TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_conversations_updated ON conversations (updated_at);

			CREATE TABLE messages (
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				position        INTEGER NOT NULL,
				role            TEXT NOT NULL,
				content         TEXT NOT NULL,
				name            TEXT NOT NULL DEFAULT '',
				tool_calls      TEXT,
				tool_call_id    TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (conversation_id, position)
			);
		`,
	},
}
