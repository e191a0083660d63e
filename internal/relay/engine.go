package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Engine is the routing and presence core. Every handler answers the calling
// session only; pushes to other sessions are best-effort and never block on a
// slow peer. Mutations touching one identity handle are serialized through
// the per-handle lock table, so goOnline, deliverOrQueue and disconnect for
// the same handle cannot interleave.
type Engine struct {
	logger *slog.Logger
	store  Store
	reg    *Registry
	locks  handleLocks

	// nowMs is swappable in tests.
	nowMs func() int64
}

func NewEngine(logger *slog.Logger, store Store) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger.With("component", "relay"),
		store:  store,
		reg:    NewRegistry(),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Registry exposes the binding table for transport and health reporting.
func (e *Engine) Registry() *Registry {
	return e.reg
}

func (e *Engine) handlePing(_ context.Context, sess *Session, _ json.RawMessage) {
	sess.Push(PongEvent{Type: "pong"})
}

type goOnlinePayload struct {
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Bio      string `json:"bio"`
}

func (e *Engine) handleGoOnline(ctx context.Context, sess *Session, raw json.RawMessage) {
	accountID := sess.AccountID()
	if accountID == "" {
		sess.Push(errorEvent(CodeUnauthenticated, "login required"))
		return
	}

	var p goOnlinePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Handle == "" || p.Nickname == "" {
		sess.Push(errorEvent(CodeValidation, "handle and nickname are required"))
		return
	}

	unlock := e.locks.lock(p.Handle)
	defer unlock()

	row, err := e.store.UpsertCharacterOnline(ctx, accountID, p.Handle, p.Nickname, p.Avatar, p.Bio, e.nowMs())
	if err != nil {
		e.logger.Warn("go_online failed", "handle", p.Handle, "error", err)
		sess.Push(storeError(err))
		return
	}

	e.reg.Bind(sess, row.Handle)

	sess.Push(CharacterOnlineEvent{Type: "character_online", Handle: row.Handle, Nickname: row.Nickname})

	e.drainOffline(ctx, sess, row.Handle)
	e.drainPendingRequests(ctx, sess, row.Handle)
}

type handlePayload struct {
	Handle string `json:"handle"`
}

func (e *Engine) handleGoOffline(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p handlePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Handle == "" {
		return
	}
	if !e.reg.Owns(sess, p.Handle) {
		return
	}

	unlock := e.locks.lock(p.Handle)
	defer unlock()

	if err := e.store.SetCharacterOffline(ctx, p.Handle, e.nowMs()); err != nil {
		e.logger.Warn("go_offline persist failed", "handle", p.Handle, "error", err)
	}
	e.reg.Unbind(sess, p.Handle)

	sess.Push(CharacterOfflineEvent{Type: "character_offline", Handle: p.Handle})
}

func (e *Engine) handleGetOnlineCharacters(ctx context.Context, sess *Session, _ json.RawMessage) {
	e.pushOnlineCharacters(ctx, sess)
}

func (e *Engine) pushOnlineCharacters(ctx context.Context, sess *Session) {
	accountID := sess.AccountID()
	if accountID == "" {
		sess.Push(OnlineCharactersEvent{Type: "online_characters", Characters: []CharacterInfo{}})
		return
	}

	chars, err := e.store.ListAccountCharacters(ctx, accountID)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	out := []CharacterInfo{}
	for _, c := range chars {
		if !e.reg.Owns(sess, c.Handle) {
			continue
		}
		out = append(out, CharacterInfo{Handle: c.Handle, Nickname: c.Nickname, Avatar: c.Avatar, Bio: c.Bio})
	}
	sess.Push(OnlineCharactersEvent{Type: "online_characters", Characters: out})
}

func (e *Engine) handleSearchUser(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p handlePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Handle == "" {
		sess.Push(SearchResultEvent{Type: "search_result"})
		return
	}

	char, err := e.store.GetCharacterByHandle(ctx, p.Handle)
	if err != nil {
		sess.Push(SearchResultEvent{Type: "search_result"})
		return
	}

	_, online := e.reg.OwnerOf(char.Handle)
	sess.Push(SearchResultEvent{
		Type: "search_result",
		Result: &SearchResult{
			Handle:   char.Handle,
			Nickname: char.Nickname,
			Avatar:   char.Avatar,
			IsOnline: online,
		},
	})
}

type sendMessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// handleSendMessage is deliverOrQueue: online recipients get an immediate
// push and no durable write; offline recipients get a durable row and no
// push. Exactly one of the two happens per call.
func (e *Engine) handleSendMessage(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.From == "" || p.To == "" || p.Content == "" {
		sess.Push(errorEvent(CodeValidation, "from, to and content are required"))
		return
	}
	if !e.reg.Owns(sess, p.From) {
		sess.Push(errorEvent(CodeUnauthenticated, "sender identity is not bound to this connection"))
		return
	}

	friends, err := e.store.AreFriends(ctx, p.From, p.To)
	if err != nil {
		sess.Push(storeError(err))
		return
	}
	if !friends {
		sess.Push(errorEvent(CodeNotFriends, "recipient is not a friend"))
		return
	}

	unlock := e.locks.lock(p.To)
	defer unlock()

	if owner, ok := e.reg.OwnerOf(p.To); ok {
		from := e.senderInfo(ctx, p.From)
		owner.Push(MessageEvent{
			Type:         "message",
			FromHandle:   p.From,
			FromNickname: from.Nickname,
			FromAvatar:   from.Avatar,
			Content:      p.Content,
			Timestamp:    e.nowMs(),
		})
		return
	}

	if _, err := e.store.SaveOfflineMessage(ctx, p.From, p.To, p.Content, e.nowMs()); err != nil {
		e.logger.Warn("offline message persist failed", "to", p.To, "error", err)
		sess.Push(storeError(err))
	}
}

// drainOffline pushes every queued message for handle in creation order, then
// flips the delivered flags in one batch. If any push is refused the batch is
// not marked at all, so nothing pushed so far is lost if this connection is
// already dead; a later drain may redeliver those messages. At-least-once.
func (e *Engine) drainOffline(ctx context.Context, sess *Session, handle string) {
	msgs, err := e.store.ListUndeliveredMessages(ctx, handle)
	if err != nil {
		e.logger.Warn("offline drain read failed", "handle", handle, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	senders := make(map[string]CharacterInfo)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		from, ok := senders[m.FromHandle]
		if !ok {
			from = e.senderInfo(ctx, m.FromHandle)
			senders[m.FromHandle] = from
		}
		ok = sess.Push(MessageEvent{
			Type:         "message",
			FromHandle:   m.FromHandle,
			FromNickname: from.Nickname,
			FromAvatar:   from.Avatar,
			Content:      m.Content,
			Timestamp:    m.CreatedAtMs,
		})
		if !ok {
			return
		}
		ids = append(ids, m.ID)
	}

	if err := e.store.MarkOfflineDelivered(ctx, ids); err != nil {
		e.logger.Warn("offline drain mark failed", "handle", handle, "count", len(ids), "error", err)
	}
}

// drainPendingRequests re-sends every still-pending friend request addressed
// to handle. Redelivery across logins is expected; status alone governs it.
func (e *Engine) drainPendingRequests(ctx context.Context, sess *Session, handle string) {
	reqs, err := e.store.ListPendingRequests(ctx, handle)
	if err != nil {
		e.logger.Warn("pending request drain failed", "handle", handle, "error", err)
		return
	}
	for _, r := range reqs {
		from := e.senderInfo(ctx, r.FromHandle)
		sess.Push(FriendRequestEvent{
			Type: "friend_request",
			Request: FriendRequestInfo{
				ID:           r.ID,
				FromHandle:   r.FromHandle,
				FromNickname: from.Nickname,
				FromAvatar:   from.Avatar,
				Message:      r.Message,
				Time:         r.CreatedAtMs,
			},
		})
	}
}

// Disconnect releases everything the session owned and marks those
// identities offline. Friendships, queued messages and group data are
// untouched.
func (e *Engine) Disconnect(ctx context.Context, sess *Session) {
	handles := e.reg.UnbindAll(sess)
	now := e.nowMs()
	for _, h := range handles {
		unlock := e.locks.lock(h)
		if err := e.store.SetCharacterOffline(ctx, h, now); err != nil {
			e.logger.Warn("disconnect offline mark failed", "handle", h, "error", err)
		}
		unlock()
	}
	if len(handles) > 0 {
		e.logger.Info("session disconnected", "handles", len(handles))
	}
}

// restoreAccount re-binds the account's still-online identities to this
// session after token auth, then reports them and drains their queues.
func (e *Engine) restoreAccount(ctx context.Context, sess *Session, accountID string) {
	chars, err := e.store.ListAccountCharacters(ctx, accountID)
	if err != nil {
		e.logger.Warn("restore failed", "account", accountID, "error", err)
		return
	}

	for _, c := range chars {
		if !c.Online {
			continue
		}
		unlock := e.locks.lock(c.Handle)
		e.reg.Bind(sess, c.Handle)
		unlock()
	}

	e.pushOnlineCharacters(ctx, sess)

	for _, c := range chars {
		if !c.Online {
			continue
		}
		unlock := e.locks.lock(c.Handle)
		e.drainOffline(ctx, sess, c.Handle)
		unlock()
	}
}

// senderInfo resolves display fields for a handle, falling back to the bare
// handle when the record is missing.
func (e *Engine) senderInfo(ctx context.Context, handle string) CharacterInfo {
	char, err := e.store.GetCharacterByHandle(ctx, handle)
	if err != nil {
		return CharacterInfo{Handle: handle, Nickname: handle}
	}
	return CharacterInfo{Handle: char.Handle, Nickname: char.Nickname, Avatar: char.Avatar, Bio: char.Bio}
}
