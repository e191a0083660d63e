package relay

import (
	"context"
	"encoding/json"
)

type friendRequestPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (e *Engine) handleFriendRequest(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p friendRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.From == "" || p.To == "" {
		sess.Push(errorEvent(CodeValidation, "from and to are required"))
		return
	}
	if !e.reg.Owns(sess, p.From) {
		sess.Push(errorEvent(CodeUnauthenticated, "sender identity is not bound to this connection"))
		return
	}

	if _, err := e.store.GetCharacterByHandle(ctx, p.To); err != nil {
		sess.Push(errorEvent(CodeUnknownTarget, "no such identity"))
		return
	}

	// The friendship check happens inside CreateFriendRequest's transaction;
	// an existing pair surfaces here as ALREADY_FRIENDS.
	req, err := e.store.CreateFriendRequest(ctx, p.From, p.To, p.Message, e.nowMs())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	// The request row is the durable record; an offline target sees it via
	// the pending drain on next login.
	if owner, ok := e.reg.OwnerOf(p.To); ok {
		from := e.senderInfo(ctx, p.From)
		owner.Push(FriendRequestEvent{
			Type: "friend_request",
			Request: FriendRequestInfo{
				ID:           req.ID,
				FromHandle:   req.FromHandle,
				FromNickname: from.Nickname,
				FromAvatar:   from.Avatar,
				Message:      req.Message,
				Time:         req.CreatedAtMs,
			},
		})
	}
}

type resolveRequestPayload struct {
	RequestID string `json:"request_id"`
	MyHandle  string `json:"my_handle"`
}

func (e *Engine) handleAcceptFriendRequest(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p resolveRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "request_id and my_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	req, err := e.store.AcceptFriendRequest(ctx, p.RequestID, p.MyHandle, e.nowMs())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	mine := e.senderInfo(ctx, p.MyHandle)
	theirs := e.senderInfo(ctx, req.FromHandle)

	if owner, ok := e.reg.OwnerOf(req.FromHandle); ok {
		owner.Push(FriendRequestAcceptedEvent{
			Type:           "friend_request_accepted",
			FriendHandle:   mine.Handle,
			FriendNickname: mine.Nickname,
			FriendAvatar:   mine.Avatar,
			FriendBio:      mine.Bio,
		})
	}

	sess.Push(FriendRequestAcceptedEvent{
		Type:           "friend_request_accepted",
		FriendHandle:   theirs.Handle,
		FriendNickname: theirs.Nickname,
		FriendAvatar:   theirs.Avatar,
		FriendBio:      theirs.Bio,
	})
}

func (e *Engine) handleRejectFriendRequest(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p resolveRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" || p.MyHandle == "" {
		sess.Push(errorEvent(CodeValidation, "request_id and my_handle are required"))
		return
	}
	if !e.reg.Owns(sess, p.MyHandle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	req, err := e.store.RejectFriendRequest(ctx, p.RequestID, p.MyHandle, e.nowMs())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	sess.Push(FriendRequestRejectedEvent{Type: "friend_request_rejected", RequestID: req.ID})
}

func (e *Engine) handleGetPendingRequests(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p handlePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Handle == "" {
		sess.Push(errorEvent(CodeValidation, "handle is required"))
		return
	}
	if !e.reg.Owns(sess, p.Handle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	reqs, err := e.store.ListPendingRequests(ctx, p.Handle)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	out := []FriendRequestInfo{}
	for _, r := range reqs {
		from := e.senderInfo(ctx, r.FromHandle)
		out = append(out, FriendRequestInfo{
			ID:           r.ID,
			FromHandle:   r.FromHandle,
			FromNickname: from.Nickname,
			FromAvatar:   from.Avatar,
			Message:      r.Message,
			Time:         r.CreatedAtMs,
		})
	}
	sess.Push(PendingFriendRequestsEvent{Type: "pending_friend_requests", Requests: out})
}

func (e *Engine) handleGetFriends(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p handlePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Handle == "" {
		sess.Push(errorEvent(CodeValidation, "handle is required"))
		return
	}
	if !e.reg.Owns(sess, p.Handle) {
		sess.Push(errorEvent(CodeUnauthenticated, "identity is not bound to this connection"))
		return
	}

	friends, err := e.store.ListFriends(ctx, p.Handle)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	out := []FriendInfo{}
	for _, f := range friends {
		_, online := e.reg.OwnerOf(f.Handle)
		out = append(out, FriendInfo{
			Handle:   f.Handle,
			Nickname: f.Nickname,
			Avatar:   f.Avatar,
			IsOnline: online,
		})
	}
	sess.Push(FriendsListEvent{Type: "friends_list", Friends: out})
}
