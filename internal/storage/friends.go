package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Friendship pairs are stored canonically with handle_a < handle_b, so the
// UNIQUE(handle_a, handle_b) constraint is order-independent.
func canonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func (s *Store) AreFriends(ctx context.Context, handle, peerHandle string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("db not initialized")
	}
	if handle == "" || peerHandle == "" {
		return false, fmt.Errorf("missing handles")
	}

	a, b := canonicalPair(handle, peerHandle)
	q := `SELECT 1 FROM friendships WHERE handle_a = ? AND handle_b = ?;`
	var one int
	if err := s.db.QueryRowContext(ctx, s.rebind(q), a, b).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return one == 1, nil
}

func (s *Store) ListFriends(ctx context.Context, handle string) ([]CharacterRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if handle == "" {
		return nil, fmt.Errorf("missing handle")
	}

	q := `SELECT c.id, c.account_id, c.handle, c.nickname, c.avatar, c.bio, c.is_online, c.last_seen_ms, c.created_at_ms
		FROM friendships f
		JOIN characters c ON (c.handle = f.handle_a OR c.handle = f.handle_b)
		WHERE (f.handle_a = ? OR f.handle_b = ?) AND c.handle != ?
		ORDER BY c.nickname ASC, c.handle ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), handle, handle, handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []CharacterRow
	for rows.Next() {
		c, err := scanCharacterRows(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return friends, nil
}

// CreateFriendRequest inserts a pending request unless the pair is already
// friends. The friendship check and the insert share one transaction, so a
// request cannot slip in between an accept elsewhere and this call.
func (s *Store) CreateFriendRequest(ctx context.Context, fromHandle, toHandle, message string, nowMs int64) (FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return FriendRequestRow{}, fmt.Errorf("db not initialized")
	}
	if fromHandle == "" || toHandle == "" {
		return FriendRequestRow{}, fmt.Errorf("missing handles")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return FriendRequestRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, b := canonicalPair(fromHandle, toHandle)
	var one int
	err = tx.QueryRowContext(txCtx,
		rebindQuery(s.driver, `SELECT 1 FROM friendships WHERE handle_a = ? AND handle_b = ?;`), a, b,
	).Scan(&one)
	switch {
	case err == nil:
		return FriendRequestRow{}, ErrAlreadyFriends
	case err != sql.ErrNoRows:
		return FriendRequestRow{}, err
	}

	req := FriendRequestRow{
		ID:          uuid.NewString(),
		FromHandle:  fromHandle,
		ToHandle:    toHandle,
		Message:     message,
		Status:      FriendRequestStatusPending,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}

	q := `INSERT INTO friend_requests (id, from_handle, to_handle, message, status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(txCtx, s.rebind(q),
		req.ID, req.FromHandle, req.ToHandle, req.Message, req.Status, req.CreatedAtMs, req.UpdatedAtMs,
	); err != nil {
		return FriendRequestRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return FriendRequestRow{}, err
	}
	return req, nil
}

func (s *Store) GetFriendRequest(ctx context.Context, requestID string) (FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return FriendRequestRow{}, fmt.Errorf("db not initialized")
	}
	return getFriendRequestByID(ctx, s.db, s.driver, requestID)
}

func (s *Store) ListPendingRequests(ctx context.Context, toHandle string) ([]FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if toHandle == "" {
		return nil, fmt.Errorf("missing handle")
	}

	q := `SELECT id, from_handle, to_handle, message, status, created_at_ms, updated_at_ms
		FROM friend_requests WHERE to_handle = ? AND status = ?
		ORDER BY created_at_ms ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), toHandle, FriendRequestStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequestRow
	for rows.Next() {
		r, err := scanFriendRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AcceptFriendRequest flips a pending request addressed to byHandle to
// accepted and inserts the friendship, both in one transaction. The insert is
// idempotent at the pair level; the status transition is terminal.
func (s *Store) AcceptFriendRequest(ctx context.Context, requestID, byHandle string, nowMs int64) (FriendRequestRow, error) {
	return s.mutateFriendRequest(ctx, requestID, byHandle, nowMs, "accept")
}

func (s *Store) RejectFriendRequest(ctx context.Context, requestID, byHandle string, nowMs int64) (FriendRequestRow, error) {
	return s.mutateFriendRequest(ctx, requestID, byHandle, nowMs, "reject")
}

func (s *Store) mutateFriendRequest(ctx context.Context, requestID, byHandle string, nowMs int64, action string) (FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return FriendRequestRow{}, fmt.Errorf("db not initialized")
	}
	if requestID == "" || byHandle == "" {
		return FriendRequestRow{}, fmt.Errorf("missing ids")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return FriendRequestRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := getFriendRequestByID(txCtx, tx, s.driver, requestID)
	if err != nil {
		return FriendRequestRow{}, err
	}
	if req.ToHandle != byHandle {
		return FriendRequestRow{}, fmt.Errorf("%w: friend request", ErrNotFound)
	}
	if req.Status != FriendRequestStatusPending {
		return FriendRequestRow{}, ErrRequestResolved
	}

	switch action {
	case "accept":
		if err := setFriendRequestStatus(txCtx, tx, s.driver, req.ID, FriendRequestStatusAccepted, nowMs); err != nil {
			return FriendRequestRow{}, err
		}
		req.Status = FriendRequestStatusAccepted
		req.UpdatedAtMs = nowMs

		if err := upsertFriendship(txCtx, tx, s.driver, req.FromHandle, req.ToHandle, nowMs); err != nil {
			return FriendRequestRow{}, err
		}
	case "reject":
		if err := setFriendRequestStatus(txCtx, tx, s.driver, req.ID, FriendRequestStatusRejected, nowMs); err != nil {
			return FriendRequestRow{}, err
		}
		req.Status = FriendRequestStatusRejected
		req.UpdatedAtMs = nowMs
	default:
		return FriendRequestRow{}, errors.New("unknown action")
	}

	if err := tx.Commit(); err != nil {
		return FriendRequestRow{}, err
	}
	return req, nil
}

func getFriendRequestByID(ctx context.Context, q sqlQueryer, driver, id string) (FriendRequestRow, error) {
	query := rebindQuery(driver, `SELECT id, from_handle, to_handle, message, status, created_at_ms, updated_at_ms
		FROM friend_requests WHERE id = ?;`)
	r, err := scanFriendRequest(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return FriendRequestRow{}, fmt.Errorf("%w: friend request", ErrNotFound)
	}
	return r, err
}

func scanFriendRequest(row rowScanner) (FriendRequestRow, error) {
	var r FriendRequestRow
	var message sql.NullString
	var updated sql.NullInt64
	if err := row.Scan(
		&r.ID, &r.FromHandle, &r.ToHandle, &message, &r.Status, &r.CreatedAtMs, &updated,
	); err != nil {
		return FriendRequestRow{}, err
	}
	r.Message = message.String
	if updated.Valid {
		r.UpdatedAtMs = updated.Int64
	} else {
		r.UpdatedAtMs = r.CreatedAtMs
	}
	return r, nil
}

func setFriendRequestStatus(ctx context.Context, exec sqlExecer, driver, id, status string, nowMs int64) error {
	query := rebindQuery(driver, `UPDATE friend_requests SET status = ?, updated_at_ms = ? WHERE id = ?;`)
	res, err := exec.ExecContext(ctx, query, status, nowMs, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: friend request", ErrNotFound)
	}
	return nil
}

func upsertFriendship(ctx context.Context, exec sqlExecer, driver, handle, peerHandle string, nowMs int64) error {
	a, b := canonicalPair(handle, peerHandle)
	query := rebindQuery(driver, `INSERT INTO friendships (id, handle_a, handle_b, created_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle_a, handle_b) DO NOTHING;`)
	_, err := exec.ExecContext(ctx, query, uuid.NewString(), a, b, nowMs)
	return err
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
