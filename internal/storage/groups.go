package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateGroup inserts the group and its creator's membership row in one
// transaction, so a group can never exist without at least one member.
func (s *Store) CreateGroup(ctx context.Context, name, creatorHandle string, creatorPersona Persona, nowMs int64) (GroupRow, error) {
	if s == nil || s.db == nil {
		return GroupRow{}, fmt.Errorf("db not initialized")
	}
	if name == "" || creatorHandle == "" {
		return GroupRow{}, fmt.Errorf("missing name or creator")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return GroupRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	group := GroupRow{
		ID:            uuid.NewString(),
		Name:          name,
		CreatorHandle: creatorHandle,
		CreatedAtMs:   nowMs,
	}

	groupQ := rebindQuery(s.driver, `INSERT INTO online_groups (id, name, avatar, creator_handle, created_at_ms)
		VALUES (?, ?, ?, ?, ?);`)
	if _, err := tx.ExecContext(txCtx, groupQ,
		group.ID, group.Name, group.Avatar, group.CreatorHandle, group.CreatedAtMs,
	); err != nil {
		return GroupRow{}, err
	}

	memberQ := rebindQuery(s.driver, `INSERT INTO online_group_members
		(id, group_id, handle, persona_name, persona_avatar, persona_desc, joined_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if _, err := tx.ExecContext(txCtx, memberQ,
		uuid.NewString(), group.ID, creatorHandle,
		creatorPersona.Name, creatorPersona.Avatar, creatorPersona.Desc, nowMs,
	); err != nil {
		return GroupRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return GroupRow{}, err
	}
	return group, nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (GroupRow, error) {
	if s == nil || s.db == nil {
		return GroupRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, name, avatar, creator_handle, created_at_ms
		FROM online_groups WHERE id = ?;`

	var g GroupRow
	var avatar sql.NullString
	if err := s.db.QueryRowContext(ctx, s.rebind(q), groupID).Scan(
		&g.ID, &g.Name, &avatar, &g.CreatorHandle, &g.CreatedAtMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return GroupRow{}, fmt.Errorf("%w: group", ErrNotFound)
		}
		return GroupRow{}, err
	}
	g.Avatar = avatar.String
	return g, nil
}

func (s *Store) ListMemberGroups(ctx context.Context, handle string) ([]GroupRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT g.id, g.name, g.avatar, g.creator_handle, g.created_at_ms
		FROM online_groups g
		JOIN online_group_members m ON g.id = m.group_id
		WHERE m.handle = ?
		ORDER BY g.created_at_ms ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRow
	for rows.Next() {
		var g GroupRow
		var avatar sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &avatar, &g.CreatorHandle, &g.CreatedAtMs); err != nil {
			return nil, err
		}
		g.Avatar = avatar.String
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetGroupMember(ctx context.Context, groupID, handle string) (GroupMemberRow, error) {
	if s == nil || s.db == nil {
		return GroupMemberRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, group_id, handle, persona_name, persona_avatar, persona_desc, joined_at_ms
		FROM online_group_members WHERE group_id = ? AND handle = ?;`

	m, err := scanGroupMember(s.db.QueryRowContext(ctx, s.rebind(q), groupID, handle))
	if err == sql.ErrNoRows {
		return GroupMemberRow{}, fmt.Errorf("%w: group member", ErrNotFound)
	}
	return m, err
}

// UpsertGroupMember adds a member or, if the (group, handle) pair already
// exists, refreshes the stored persona. Returns whether a new row was created.
func (s *Store) UpsertGroupMember(ctx context.Context, groupID, handle string, persona Persona, nowMs int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("db not initialized")
	}
	if groupID == "" || handle == "" {
		return false, fmt.Errorf("missing group or handle")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	selectQ := rebindQuery(s.driver, `SELECT id FROM online_group_members WHERE group_id = ? AND handle = ?;`)
	var existingID string
	err = tx.QueryRowContext(txCtx, selectQ, groupID, handle).Scan(&existingID)

	created := false
	switch {
	case err == sql.ErrNoRows:
		insertQ := rebindQuery(s.driver, `INSERT INTO online_group_members
			(id, group_id, handle, persona_name, persona_avatar, persona_desc, joined_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?);`)
		if _, err := tx.ExecContext(txCtx, insertQ,
			uuid.NewString(), groupID, handle, persona.Name, persona.Avatar, persona.Desc, nowMs,
		); err != nil {
			return false, err
		}
		created = true
	case err != nil:
		return false, err
	default:
		updateQ := rebindQuery(s.driver, `UPDATE online_group_members
			SET persona_name = ?, persona_avatar = ?, persona_desc = ?
			WHERE id = ?;`)
		if _, err := tx.ExecContext(txCtx, updateQ, persona.Name, persona.Avatar, persona.Desc, existingID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) UpdateGroupMemberPersona(ctx context.Context, groupID, handle string, persona Persona) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE online_group_members SET persona_name = ?, persona_avatar = ?, persona_desc = ?
		WHERE group_id = ? AND handle = ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), persona.Name, persona.Avatar, persona.Desc, groupID, handle)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: group member", ErrNotFound)
	}
	return nil
}

func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMemberRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, group_id, handle, persona_name, persona_avatar, persona_desc, joined_at_ms
		FROM online_group_members WHERE group_id = ? ORDER BY joined_at_ms ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMemberRow
	for rows.Next() {
		m, err := scanGroupMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveGroupMessage(ctx context.Context, groupID, senderKind, senderHandle, senderName, personaName, content, msgKind string, nowMs int64) (GroupMessageRow, error) {
	if s == nil || s.db == nil {
		return GroupMessageRow{}, fmt.Errorf("db not initialized")
	}
	if msgKind == "" {
		msgKind = GroupMessageKindText
	}

	row := GroupMessageRow{
		ID:           uuid.NewString(),
		GroupID:      groupID,
		SenderKind:   senderKind,
		SenderHandle: senderHandle,
		SenderName:   senderName,
		PersonaName:  personaName,
		Content:      content,
		MsgKind:      msgKind,
		CreatedAtMs:  nowMs,
	}

	q := `INSERT INTO online_group_messages
		(id, group_id, sender_kind, sender_handle, sender_name, persona_name, content, msg_kind, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		row.ID, row.GroupID, row.SenderKind, row.SenderHandle, row.SenderName,
		row.PersonaName, row.Content, row.MsgKind, row.CreatedAtMs,
	); err != nil {
		return GroupMessageRow{}, err
	}

	return row, nil
}

// ListGroupMessages reads history ascending. limit > 0 selects the most
// recent N (still returned oldest-first); sinceMs > 0 is an exclusive lower
// bound. The caller guarantees at most one of the two is set.
func (s *Store) ListGroupMessages(ctx context.Context, groupID string, limit int, sinceMs int64) ([]GroupMessageRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	var q string
	var args []any
	switch {
	case sinceMs > 0:
		q = `SELECT id, group_id, sender_kind, sender_handle, sender_name, persona_name, content, msg_kind, created_at_ms
			FROM online_group_messages WHERE group_id = ? AND created_at_ms > ?
			ORDER BY created_at_ms ASC;`
		args = []any{groupID, sinceMs}
	case limit > 0:
		q = `SELECT id, group_id, sender_kind, sender_handle, sender_name, persona_name, content, msg_kind, created_at_ms
			FROM online_group_messages WHERE group_id = ?
			ORDER BY created_at_ms DESC LIMIT ?;`
		args = []any{groupID, limit}
	default:
		q = `SELECT id, group_id, sender_kind, sender_handle, sender_name, persona_name, content, msg_kind, created_at_ms
			FROM online_group_messages WHERE group_id = ?
			ORDER BY created_at_ms ASC;`
		args = []any{groupID}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMessageRow
	for rows.Next() {
		var m GroupMessageRow
		var personaName sql.NullString
		if err := rows.Scan(
			&m.ID, &m.GroupID, &m.SenderKind, &m.SenderHandle, &m.SenderName,
			&personaName, &m.Content, &m.MsgKind, &m.CreatedAtMs,
		); err != nil {
			return nil, err
		}
		m.PersonaName = personaName.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && sinceMs == 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func scanGroupMember(row rowScanner) (GroupMemberRow, error) {
	var m GroupMemberRow
	var name, avatar, desc sql.NullString
	if err := row.Scan(&m.ID, &m.GroupID, &m.Handle, &name, &avatar, &desc, &m.JoinedAtMs); err != nil {
		return GroupMemberRow{}, err
	}
	m.Persona = Persona{Name: name.String, Avatar: avatar.String, Desc: desc.String}
	return m, nil
}
