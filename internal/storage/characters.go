package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertCharacterOnline claims a handle for an account and marks it online.
// The ownership check and the upsert run in one transaction: a handle already
// owned by a different account fails with ErrHandleTaken and changes nothing.
func (s *Store) UpsertCharacterOnline(ctx context.Context, accountID, handle, nickname, avatar, bio string, nowMs int64) (CharacterRow, error) {
	if s == nil || s.db == nil {
		return CharacterRow{}, fmt.Errorf("db not initialized")
	}
	if accountID == "" || handle == "" {
		return CharacterRow{}, fmt.Errorf("missing account or handle")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return CharacterRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	selectQ := rebindQuery(s.driver, `SELECT id, account_id, created_at_ms FROM characters WHERE handle = ?;`)

	row := CharacterRow{
		AccountID:   accountID,
		Handle:      handle,
		Nickname:    nickname,
		Avatar:      avatar,
		Bio:         bio,
		Online:      true,
		LastSeenMs:  nowMs,
		CreatedAtMs: nowMs,
	}

	var existingID, existingAccount string
	var createdAtMs int64
	err = tx.QueryRowContext(txCtx, selectQ, handle).Scan(&existingID, &existingAccount, &createdAtMs)
	switch {
	case err == sql.ErrNoRows:
		row.ID = uuid.NewString()
		insertQ := rebindQuery(s.driver, `INSERT INTO characters
			(id, account_id, handle, nickname, avatar, bio, is_online, last_seen_ms, created_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?);`)
		if _, err := tx.ExecContext(txCtx, insertQ,
			row.ID, accountID, handle, nickname, avatar, bio, nowMs, nowMs,
		); err != nil {
			return CharacterRow{}, err
		}
	case err != nil:
		return CharacterRow{}, err
	default:
		if existingAccount != accountID {
			return CharacterRow{}, ErrHandleTaken
		}
		row.ID = existingID
		row.CreatedAtMs = createdAtMs
		updateQ := rebindQuery(s.driver, `UPDATE characters
			SET nickname = ?, avatar = ?, bio = ?, is_online = 1, last_seen_ms = ?
			WHERE id = ?;`)
		if _, err := tx.ExecContext(txCtx, updateQ, nickname, avatar, bio, nowMs, existingID); err != nil {
			return CharacterRow{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return CharacterRow{}, err
	}
	return row, nil
}

func (s *Store) GetCharacterByHandle(ctx context.Context, handle string) (CharacterRow, error) {
	if s == nil || s.db == nil {
		return CharacterRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, account_id, handle, nickname, avatar, bio, is_online, last_seen_ms, created_at_ms
		FROM characters WHERE handle = ?;`

	return scanCharacter(s.db.QueryRowContext(ctx, s.rebind(q), handle))
}

func (s *Store) ListAccountCharacters(ctx context.Context, accountID string) ([]CharacterRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, account_id, handle, nickname, avatar, bio, is_online, last_seen_ms, created_at_ms
		FROM characters WHERE account_id = ? ORDER BY created_at_ms ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CharacterRow
	for rows.Next() {
		c, err := scanCharacterRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetCharacterOffline(ctx context.Context, handle string, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE characters SET is_online = 0, last_seen_ms = ? WHERE handle = ?;`
	_, err := s.db.ExecContext(ctx, s.rebind(q), nowMs, handle)
	return err
}

func (s *Store) SetAccountCharactersOffline(ctx context.Context, accountID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE characters SET is_online = 0, last_seen_ms = ? WHERE account_id = ?;`
	_, err := s.db.ExecContext(ctx, s.rebind(q), nowMs, accountID)
	return err
}

// MarkAllCharactersOffline is the shutdown sweep: no identity survives a
// process restart as online.
func (s *Store) MarkAllCharactersOffline(ctx context.Context, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE characters SET is_online = 0, last_seen_ms = ? WHERE is_online = 1;`
	_, err := s.db.ExecContext(ctx, s.rebind(q), nowMs)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row *sql.Row) (CharacterRow, error) {
	c, err := scanCharacterRows(row)
	if err == sql.ErrNoRows {
		return CharacterRow{}, fmt.Errorf("%w: character", ErrNotFound)
	}
	return c, err
}

func scanCharacterRows(row rowScanner) (CharacterRow, error) {
	var c CharacterRow
	var avatar, bio sql.NullString
	var online int
	var lastSeen sql.NullInt64
	if err := row.Scan(
		&c.ID, &c.AccountID, &c.Handle, &c.Nickname, &avatar, &bio,
		&online, &lastSeen, &c.CreatedAtMs,
	); err != nil {
		return CharacterRow{}, err
	}
	c.Avatar = avatar.String
	c.Bio = bio.String
	c.Online = online == 1
	c.LastSeenMs = lastSeen.Int64
	return c, nil
}
