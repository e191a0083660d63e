package relay

import (
	"context"
	"encoding/json"

	"relay-backend/internal/storage"
)

type createGroupPayload struct {
	Name          string       `json:"name"`
	MyHandle      string       `json:"my_handle"`
	MyCharacter   *PersonaInfo `json:"my_character"`
	InviteHandles []string     `json:"invite_handles"`
}

func (e *Engine) handleCreateGroup(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p createGroupPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Name == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "name and my_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	group, err := e.store.CreateGroup(ctx, p.Name, p.MyHandle, personaFromInfo(p.MyCharacter), e.nowMs())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	sess.Push(GroupCreatedEvent{Type: "online_group_created", Group: groupInfo(group)})

	if len(p.InviteHandles) == 0 {
		return
	}
	inviter := e.senderInfo(ctx, p.MyHandle)
	for _, target := range p.InviteHandles {
		if target == p.MyHandle {
			continue
		}
		// Invites reach online targets only; nothing is queued.
		if owner, ok := e.reg.OwnerOf(target); ok {
			owner.Push(GroupInviteEvent{
				Type:          "group_invite",
				GroupID:       group.ID,
				GroupName:     group.Name,
				InviterHandle: p.MyHandle,
				InviterName:   inviter.Nickname,
			})
		}
	}
}

type invitePayload struct {
	GroupID      string `json:"group_id"`
	MyHandle     string `json:"my_handle"`
	InviteHandle string `json:"invite_handle"`
}

func (e *Engine) handleInviteToGroup(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p invitePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" || p.InviteHandle == "" {
		sess.Push(errorEvent(CodeValidation, "group_id, my_handle and invite_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	if _, err := e.store.GetGroupMember(ctx, p.GroupID, p.MyHandle); err != nil {
		sess.Push(errorEvent(CodeNotAMember, "not a member of this group"))
		return
	}
	group, err := e.store.GetGroup(ctx, p.GroupID)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	if owner, ok := e.reg.OwnerOf(p.InviteHandle); ok {
		inviter := e.senderInfo(ctx, p.MyHandle)
		owner.Push(GroupInviteEvent{
			Type:          "group_invite",
			GroupID:       group.ID,
			GroupName:     group.Name,
			InviterHandle: p.MyHandle,
			InviterName:   inviter.Nickname,
		})
	}
}

type joinGroupPayload struct {
	GroupID     string       `json:"group_id"`
	MyHandle    string       `json:"my_handle"`
	MyCharacter *PersonaInfo `json:"my_character"`
}

// handleJoinGroup is idempotent: re-joining refreshes the stored persona
// instead of duplicating the membership, and only a first join is announced.
func (e *Engine) handleJoinGroup(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p joinGroupPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "group_id and my_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	group, err := e.store.GetGroup(ctx, p.GroupID)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	created, err := e.store.UpsertGroupMember(ctx, group.ID, p.MyHandle, personaFromInfo(p.MyCharacter), e.nowMs())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	if created {
		joiner := e.senderInfo(ctx, p.MyHandle)
		member := GroupMemberJoinedInfo{
			Handle:   p.MyHandle,
			Nickname: joiner.Nickname,
			Avatar:   joiner.Avatar,
		}
		if p.MyCharacter != nil {
			member.PersonaName = p.MyCharacter.Name
			member.PersonaAvatar = p.MyCharacter.Avatar
		}
		e.broadcastToGroup(ctx, group.ID, sess, GroupMemberJoinedEvent{
			Type:    "group_member_joined",
			GroupID: group.ID,
			Member:  member,
		})
	}

	sess.Push(GroupJoinedEvent{Type: "online_group_joined", Group: groupInfo(group)})
}

type myHandlePayload struct {
	MyHandle string `json:"my_handle"`
}

func (e *Engine) handleGetGroups(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p myHandlePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "my_handle is required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	groups, err := e.store.ListMemberGroups(ctx, p.MyHandle)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	out := []GroupInfo{}
	for _, g := range groups {
		out = append(out, groupInfo(g))
	}
	sess.Push(GroupsListEvent{Type: "online_groups_list", Groups: out})
}

type getGroupMessagesPayload struct {
	GroupID  string `json:"group_id"`
	MyHandle string `json:"my_handle"`
	Limit    int    `json:"limit"`
	Since    int64  `json:"since"`
}

func (e *Engine) handleGetGroupMessages(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p getGroupMessagesPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "group_id and my_handle are required"))
		return
	}
	if p.Limit > 0 && p.Since > 0 {
		sess.Push(errorEvent(CodeValidation, "limit and since are mutually exclusive"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}
	if _, err := e.store.GetGroupMember(ctx, p.GroupID, p.MyHandle); err != nil {
		sess.Push(errorEvent(CodeNotAMember, "not a member of this group"))
		return
	}

	msgs, err := e.store.ListGroupMessages(ctx, p.GroupID, p.Limit, p.Since)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	out := []GroupMessageInfo{}
	for _, m := range msgs {
		out = append(out, groupMessageInfo(m))
	}
	sess.Push(GroupMessagesEvent{Type: "group_messages", GroupID: p.GroupID, Messages: out})
}

type sendGroupMessagePayload struct {
	GroupID       string `json:"group_id"`
	MyHandle      string `json:"my_handle"`
	SenderKind    string `json:"sender_kind"`
	SenderName    string `json:"sender_name"`
	CharacterName string `json:"character_name"`
	Content       string `json:"content"`
	MsgKind       string `json:"msg_kind"`
}

func (e *Engine) handleSendGroupMessage(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p sendGroupMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" || p.Content == "" {
		sess.Push(errorEvent(CodeValidation, "group_id, my_handle and content are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	member, err := e.store.GetGroupMember(ctx, p.GroupID, p.MyHandle)
	if err != nil {
		sess.Push(errorEvent(CodeNotAMember, "not a member of this group"))
		return
	}

	if p.SenderKind == "" {
		p.SenderKind = storage.SenderKindUser
	}
	// Speaking as a character requires the persona registered for this
	// membership; nothing is persisted on mismatch.
	if p.SenderKind == storage.SenderKindCharacter && p.CharacterName != member.Persona.Name {
		sess.Push(errorEvent(CodePersonaMismatch, "persona does not match group registration"))
		return
	}

	senderName := p.SenderName
	if senderName == "" {
		senderName = e.senderInfo(ctx, p.MyHandle).Nickname
	}

	row, err := e.store.SaveGroupMessage(ctx, p.GroupID, p.SenderKind, p.MyHandle, senderName, p.CharacterName, p.Content, p.MsgKind, e.nowMs())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	e.broadcastToGroup(ctx, p.GroupID, nil, GroupMessageEvent{
		Type:    "group_message",
		GroupID: p.GroupID,
		Message: groupMessageInfo(row),
	})
}

type typingPayload struct {
	GroupID       string `json:"group_id"`
	MyHandle      string `json:"my_handle"`
	CharacterName string `json:"character_name"`
}

// Typing events are ephemeral: membership failures are silent and delivery
// is best-effort.
func (e *Engine) handleTypingStart(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" {
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		return
	}
	if _, err := e.store.GetGroupMember(ctx, p.GroupID, p.MyHandle); err != nil {
		return
	}
	e.broadcastToGroup(ctx, p.GroupID, sess, GroupTypingStartEvent{
		Type:        "group_typing_start",
		GroupID:     p.GroupID,
		Handle:      p.MyHandle,
		PersonaName: p.CharacterName,
	})
}

func (e *Engine) handleTypingStop(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" {
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		return
	}
	if _, err := e.store.GetGroupMember(ctx, p.GroupID, p.MyHandle); err != nil {
		return
	}
	e.broadcastToGroup(ctx, p.GroupID, sess, GroupTypingStopEvent{
		Type:    "group_typing_stop",
		GroupID: p.GroupID,
		Handle:  p.MyHandle,
	})
}

type getGroupMembersPayload struct {
	GroupID  string `json:"group_id"`
	MyHandle string `json:"my_handle"`
}

func (e *Engine) handleGetGroupMembers(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p getGroupMembersPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "group_id and my_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}
	if _, err := e.store.GetGroupMember(ctx, p.GroupID, p.MyHandle); err != nil {
		sess.Push(errorEvent(CodeNotAMember, "not a member of this group"))
		return
	}

	members, err := e.store.ListGroupMembers(ctx, p.GroupID)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	out := []GroupMemberInfo{}
	for _, m := range members {
		info := e.senderInfo(ctx, m.Handle)
		_, online := e.reg.OwnerOf(m.Handle)
		out = append(out, GroupMemberInfo{
			Handle:        m.Handle,
			Nickname:      info.Nickname,
			Avatar:        info.Avatar,
			IsOnline:      online,
			PersonaName:   m.Persona.Name,
			PersonaAvatar: m.Persona.Avatar,
			PersonaDesc:   m.Persona.Desc,
			JoinedAt:      m.JoinedAtMs,
		})
	}
	sess.Push(GroupMembersEvent{Type: "group_members", GroupID: p.GroupID, Members: out})
}

type updatePersonaPayload struct {
	GroupID   string      `json:"group_id"`
	MyHandle  string      `json:"my_handle"`
	Character PersonaInfo `json:"character"`
}

func (e *Engine) handleUpdateGroupPersona(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p updatePersonaPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "group_id and my_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	persona := storage.Persona{Name: p.Character.Name, Avatar: p.Character.Avatar, Desc: p.Character.Desc}
	if err := e.store.UpdateGroupMemberPersona(ctx, p.GroupID, p.MyHandle, persona); err != nil {
		sess.Push(errorEvent(CodeNotAMember, "not a member of this group"))
		return
	}

	e.broadcastToGroup(ctx, p.GroupID, nil, GroupCharacterUpdatedEvent{
		Type:      "group_character_updated",
		GroupID:   p.GroupID,
		Handle:    p.MyHandle,
		Character: p.Character,
	})
}

// broadcastToGroup pushes the event to every currently-online member,
// skipping exclude's sessions when set. Delivery per recipient is
// independent; one refused push never aborts the rest.
func (e *Engine) broadcastToGroup(ctx context.Context, groupID string, exclude *Session, event any) {
	members, err := e.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		e.logger.Warn("group broadcast read failed", "group", groupID, "error", err)
		return
	}

	seen := make(map[*Session]struct{}, len(members))
	for _, m := range members {
		owner, ok := e.reg.OwnerOf(m.Handle)
		if !ok || owner == exclude {
			continue
		}
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		owner.Push(event)
	}
}

func groupInfo(g storage.GroupRow) GroupInfo {
	return GroupInfo{ID: g.ID, Name: g.Name, CreatorHandle: g.CreatorHandle, CreatedAt: g.CreatedAtMs}
}

func groupMessageInfo(m storage.GroupMessageRow) GroupMessageInfo {
	return GroupMessageInfo{
		ID:           m.ID,
		SenderKind:   m.SenderKind,
		SenderHandle: m.SenderHandle,
		SenderName:   m.SenderName,
		PersonaName:  m.PersonaName,
		Content:      m.Content,
		MsgKind:      m.MsgKind,
		Timestamp:    m.CreatedAtMs,
	}
}

func personaFromInfo(p *PersonaInfo) storage.Persona {
	if p == nil {
		return storage.Persona{}
	}
	return storage.Persona{Name: p.Name, Avatar: p.Avatar, Desc: p.Desc}
}
