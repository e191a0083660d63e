package storage

import (
	"context"
	"database/sql"
)

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT,
			password_hash TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			last_login_ms BIGINT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_username ON accounts(username);`,

		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_account ON auth_tokens(account_id);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_expires ON auth_tokens(expires_at_ms);`,

		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			handle TEXT NOT NULL UNIQUE,
			nickname TEXT NOT NULL,
			avatar TEXT,
			bio TEXT,
			is_online INTEGER NOT NULL DEFAULT 0,
			last_seen_ms BIGINT,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(account_id) REFERENCES accounts(id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_characters_handle ON characters(handle);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_account ON characters(account_id);`,

		`CREATE TABLE IF NOT EXISTS friendships (
			id TEXT PRIMARY KEY,
			handle_a TEXT NOT NULL,
			handle_b TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			UNIQUE(handle_a, handle_b)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_handle_a ON friendships(handle_a);`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_handle_b ON friendships(handle_b);`,

		`CREATE TABLE IF NOT EXISTS friend_requests (
			id TEXT PRIMARY KEY,
			from_handle TEXT NOT NULL,
			to_handle TEXT NOT NULL,
			message TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_to ON friend_requests(to_handle, status);`,

		`CREATE TABLE IF NOT EXISTS offline_messages (
			id TEXT PRIMARY KEY,
			from_handle TEXT NOT NULL,
			to_handle TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_offline_messages_to ON offline_messages(to_handle, delivered);`,

		`CREATE TABLE IF NOT EXISTS online_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			avatar TEXT,
			creator_handle TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS online_group_members (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			handle TEXT NOT NULL,
			persona_name TEXT,
			persona_avatar TEXT,
			persona_desc TEXT,
			joined_at_ms BIGINT NOT NULL,
			FOREIGN KEY(group_id) REFERENCES online_groups(id),
			UNIQUE(group_id, handle)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_online_group_members_group ON online_group_members(group_id);`,
		`CREATE INDEX IF NOT EXISTS idx_online_group_members_handle ON online_group_members(handle);`,

		`CREATE TABLE IF NOT EXISTS online_group_messages (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			sender_kind TEXT NOT NULL,
			sender_handle TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			persona_name TEXT,
			content TEXT NOT NULL,
			msg_kind TEXT NOT NULL DEFAULT 'text',
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(group_id) REFERENCES online_groups(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_online_group_messages_group ON online_group_messages(group_id, created_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
