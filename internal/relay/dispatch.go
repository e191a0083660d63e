package relay

import (
	"context"
	"encoding/json"
	"log/slog"
)

type handlerFunc func(ctx context.Context, sess *Session, raw json.RawMessage)

// Dispatcher routes inbound events to engine operations by their "type" tag.
// The table is built once at startup; unknown kinds and unparseable frames
// answer with a generic error and change no state.
type Dispatcher struct {
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

func NewDispatcher(logger *slog.Logger, engine *Engine) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger.With("component", "dispatch"),
		handlers: map[string]handlerFunc{
			"ping":     engine.handlePing,
			"register": engine.handleRegister,
			"login":    engine.handleLogin,
			"auth":     engine.handleAuth,
			"logout":   engine.handleLogout,

			"go_online":             engine.handleGoOnline,
			"go_offline":            engine.handleGoOffline,
			"get_online_characters": engine.handleGetOnlineCharacters,
			"search_user":           engine.handleSearchUser,
			"message":               engine.handleSendMessage,

			"friend_request":        engine.handleFriendRequest,
			"accept_friend_request": engine.handleAcceptFriendRequest,
			"reject_friend_request": engine.handleRejectFriendRequest,
			"get_pending_requests":  engine.handleGetPendingRequests,
			"get_friends":           engine.handleGetFriends,

			"create_online_group":    engine.handleCreateGroup,
			"invite_to_group":        engine.handleInviteToGroup,
			"join_online_group":      engine.handleJoinGroup,
			"get_online_groups":      engine.handleGetGroups,
			"get_group_messages":     engine.handleGetGroupMessages,
			"send_group_message":     engine.handleSendGroupMessage,
			"get_group_members":      engine.handleGetGroupMembers,
			"update_group_character": engine.handleUpdateGroupPersona,
			"group_typing_start":     engine.handleTypingStart,
			"group_typing_stop":      engine.handleTypingStop,
		},
	}
}

type inboundEnvelope struct {
	Type string `json:"type"`
}

func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		sess.Push(errorEvent(CodeValidation, "malformed event"))
		return
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Debug("unknown event kind", "kind", env.Type)
		sess.Push(errorEvent(CodeUnknownEvent, "unknown event kind"))
		return
	}

	handler(ctx, sess, json.RawMessage(data))
}
