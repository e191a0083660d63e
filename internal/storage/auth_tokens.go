package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

func (s *Store) CreateAuthToken(ctx context.Context, accountID string, nowMs, expiresAtMs int64) (AuthTokenRow, error) {
	if s == nil || s.db == nil {
		return AuthTokenRow{}, fmt.Errorf("db not initialized")
	}

	token, err := generateToken()
	if err != nil {
		return AuthTokenRow{}, err
	}

	row := AuthTokenRow{
		Token:       token,
		AccountID:   accountID,
		CreatedAtMs: nowMs,
		ExpiresAtMs: expiresAtMs,
	}

	q := `INSERT INTO auth_tokens (token, account_id, created_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		row.Token, row.AccountID, row.CreatedAtMs, row.ExpiresAtMs,
	); err != nil {
		return AuthTokenRow{}, err
	}

	return row, nil
}

func (s *Store) ValidateToken(ctx context.Context, token string, nowMs int64) (AuthTokenRow, error) {
	if s == nil || s.db == nil {
		return AuthTokenRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT token, account_id, created_at_ms, expires_at_ms
		FROM auth_tokens WHERE token = ?;`

	var row AuthTokenRow
	if err := s.db.QueryRowContext(ctx, s.rebind(q), token).Scan(
		&row.Token, &row.AccountID, &row.CreatedAtMs, &row.ExpiresAtMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return AuthTokenRow{}, ErrTokenInvalid
		}
		return AuthTokenRow{}, err
	}

	if nowMs > row.ExpiresAtMs {
		return AuthTokenRow{}, ErrTokenExpired
	}

	return row, nil
}

func (s *Store) DeleteToken(ctx context.Context, token string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `DELETE FROM auth_tokens WHERE token = ?;`
	_, err := s.db.ExecContext(ctx, s.rebind(q), token)
	return err
}

func (s *Store) CleanExpiredTokens(ctx context.Context, nowMs int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("db not initialized")
	}

	q := `DELETE FROM auth_tokens WHERE expires_at_ms < ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), nowMs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
