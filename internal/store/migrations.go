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
		Name:    "create workspaces, sessions and messages",
		SQL: `
			CREATE TABLE workspaces (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL UNIQUE,
				path        TEXT NOT NULL,
				sync_kind   TEXT NOT NULL DEFAULT 'none',
				remote      TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE sessions (
				id            TEXT PRIMARY KEY,
				workspace_id  TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
				title         TEXT NOT NULL DEFAULT '',
				thread_id     TEXT NOT NULL DEFAULT '',
				mode          TEXT NOT NULL DEFAULT '',
				tool_servers  TEXT NOT NULL DEFAULT '[]',
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_workspace ON sessions (workspace_id, updated_at);

			CREATE TABLE messages (
				seq           INTEGER PRIMARY KEY AUTOINCREMENT,
				id            TEXT NOT NULL UNIQUE,
				session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				workspace_id  TEXT NOT NULL,
				role          TEXT NOT NULL,
				content       TEXT NOT NULL,
				created_at    TEXT NOT NULL
			);

			CREATE INDEX idx_messages_session ON messages (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create mcp servers",
		SQL: `
			CREATE TABLE mcp_servers (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL UNIQUE,
				transport   TEXT NOT NULL,
				command     TEXT NOT NULL DEFAULT '',
				args        TEXT NOT NULL DEFAULT '[]',
				url         TEXT NOT NULL DEFAULT '',
				env         TEXT NOT NULL DEFAULT '{}',
				created_at  TEXT NOT NULL
			);
		`,
	},
	{
		Version: 3,
		Name:    "create message search with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				content='messages',
				content_rowid='seq'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.seq, old.content);
			END;
		`,
	},
	{
		Version: 4,
		Name:    "add git sync options to workspaces",
		SQL: `
			ALTER TABLE workspaces ADD COLUMN git_branch TEXT NOT NULL DEFAULT '';
			ALTER TABLE workspaces ADD COLUMN git_username TEXT NOT NULL DEFAULT '';
			ALTER TABLE workspaces ADD COLUMN git_token TEXT NOT NULL DEFAULT '';
			ALTER TABLE workspaces ADD COLUMN git_allow_insecure INTEGER NOT NULL DEFAULT 0;
			ALTER TABLE workspaces ADD COLUMN git_author_name TEXT NOT NULL DEFAULT '';
			ALTER TABLE workspaces ADD COLUMN git_author_email TEXT NOT NULL DEFAULT '';
		`,
	},
}
