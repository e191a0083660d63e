package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Store) CreateAccount(ctx context.Context, username string, email *string, passwordHash string, nowMs int64) (AccountRow, error) {
	if s == nil || s.db == nil {
		return AccountRow{}, fmt.Errorf("db not initialized")
	}

	account := AccountRow{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAtMs:  nowMs,
	}

	var emailVal any
	if email != nil {
		emailVal = *email
	}

	q := `INSERT INTO accounts (id, username, email, password_hash, created_at_ms)
		VALUES (?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		account.ID, account.Username, emailVal, account.PasswordHash, nowMs,
	); err != nil {
		if isUniqueViolation(err) {
			return AccountRow{}, ErrUsernameExists
		}
		return AccountRow{}, err
	}

	return account, nil
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (AccountRow, error) {
	if s == nil || s.db == nil {
		return AccountRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, username, email, password_hash, created_at_ms, last_login_ms
		FROM accounts WHERE id = ?;`
	return s.scanAccount(s.db.QueryRowContext(ctx, s.rebind(q), accountID))
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (AccountRow, error) {
	if s == nil || s.db == nil {
		return AccountRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, username, email, password_hash, created_at_ms, last_login_ms
		FROM accounts WHERE username = ?;`
	return s.scanAccount(s.db.QueryRowContext(ctx, s.rebind(q), username))
}

func (s *Store) UpdateLastLogin(ctx context.Context, accountID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE accounts SET last_login_ms = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), nowMs, accountID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: account", ErrNotFound)
	}
	return nil
}

func (s *Store) scanAccount(row *sql.Row) (AccountRow, error) {
	var account AccountRow
	var email sql.NullString
	var lastLogin sql.NullInt64
	if err := row.Scan(
		&account.ID, &account.Username, &email, &account.PasswordHash,
		&account.CreatedAtMs, &lastLogin,
	); err != nil {
		if err == sql.ErrNoRows {
			return AccountRow{}, fmt.Errorf("%w: account", ErrNotFound)
		}
		return AccountRow{}, err
	}
	if email.Valid {
		account.Email = &email.String
	}
	if lastLogin.Valid {
		account.LastLoginMs = &lastLogin.Int64
	}
	return account, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
