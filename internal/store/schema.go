package store

// Schema is the baseline database schema. Later additions are applied
// as best-effort migrations in New.
const Schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	converse_id TEXT NOT NULL,
	bot_id TEXT NOT NULL,
	bot_name TEXT NOT NULL DEFAULT '',
	draft_type TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	reject_reason TEXT,
	edited_content TEXT,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_drafts_user ON drafts(user_id, status);
CREATE INDEX IF NOT EXISTS idx_drafts_expiry ON drafts(status, expires_at);

CREATE TABLE IF NOT EXISTS suggestions (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	converse_id TEXT NOT NULL,
	message_id TEXT,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	selected_index INTEGER,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_suggestions_user ON suggestions(user_id, status);

CREATE TABLE IF NOT EXISTS bots (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'generic',
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_bots_owner ON bots(owner_id);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT 'DM',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_members (
	converse_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (converse_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	converse_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'TEXT',
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_messages_converse ON messages(converse_id, created_at);

CREATE TABLE IF NOT EXISTS device_commands (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	command TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	output TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_device_commands_device ON device_commands(device_id, status);
`
