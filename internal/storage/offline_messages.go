package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (s *Store) SaveOfflineMessage(ctx context.Context, fromHandle, toHandle, content string, nowMs int64) (OfflineMessageRow, error) {
	if s == nil || s.db == nil {
		return OfflineMessageRow{}, fmt.Errorf("db not initialized")
	}
	if fromHandle == "" || toHandle == "" {
		return OfflineMessageRow{}, fmt.Errorf("missing handles")
	}

	row := OfflineMessageRow{
		ID:          uuid.NewString(),
		FromHandle:  fromHandle,
		ToHandle:    toHandle,
		Content:     content,
		CreatedAtMs: nowMs,
	}

	q := `INSERT INTO offline_messages (id, from_handle, to_handle, content, created_at_ms, delivered)
		VALUES (?, ?, ?, ?, ?, 0);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		row.ID, row.FromHandle, row.ToHandle, row.Content, row.CreatedAtMs,
	); err != nil {
		return OfflineMessageRow{}, err
	}

	return row, nil
}

// ListUndeliveredMessages returns queued messages for a recipient in creation
// order, which is also the order they must reach the client.
func (s *Store) ListUndeliveredMessages(ctx context.Context, toHandle string) ([]OfflineMessageRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if toHandle == "" {
		return nil, fmt.Errorf("missing handle")
	}

	q := `SELECT id, from_handle, to_handle, content, created_at_ms, delivered
		FROM offline_messages WHERE to_handle = ? AND delivered = 0
		ORDER BY created_at_ms ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), toHandle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OfflineMessageRow
	for rows.Next() {
		var m OfflineMessageRow
		var delivered int
		if err := rows.Scan(&m.ID, &m.FromHandle, &m.ToHandle, &m.Content, &m.CreatedAtMs, &delivered); err != nil {
			return nil, err
		}
		m.Delivered = delivered == 1
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkOfflineDelivered flips the delivered flag for exactly the given ids in
// one statement. Marking by explicit id, not by recipient, keeps messages
// enqueued during a drain from being flagged without ever being pushed.
func (s *Store) MarkOfflineDelivered(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}
	if len(ids) == 0 {
		return nil
	}

	q := `UPDATE offline_messages SET delivered = 1 WHERE id IN (` + placeholders(len(ids)) + `);`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	return err
}
