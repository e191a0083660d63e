package relay

import (
	"context"

	"relay-backend/internal/storage"
)

// Store is the durable collaborator the engine routes through. It is the
// single source of truth for every entity; the engine holds no record state
// across restarts. *storage.Store satisfies it.
type Store interface {
	CreateAccount(ctx context.Context, username string, email *string, passwordHash string, nowMs int64) (storage.AccountRow, error)
	GetAccountByID(ctx context.Context, accountID string) (storage.AccountRow, error)
	GetAccountByUsername(ctx context.Context, username string) (storage.AccountRow, error)
	UpdateLastLogin(ctx context.Context, accountID string, nowMs int64) error

	CreateAuthToken(ctx context.Context, accountID string, nowMs, expiresAtMs int64) (storage.AuthTokenRow, error)
	ValidateToken(ctx context.Context, token string, nowMs int64) (storage.AuthTokenRow, error)
	DeleteToken(ctx context.Context, token string) error

	UpsertCharacterOnline(ctx context.Context, accountID, handle, nickname, avatar, bio string, nowMs int64) (storage.CharacterRow, error)
	GetCharacterByHandle(ctx context.Context, handle string) (storage.CharacterRow, error)
	ListAccountCharacters(ctx context.Context, accountID string) ([]storage.CharacterRow, error)
	SetCharacterOffline(ctx context.Context, handle string, nowMs int64) error
	SetAccountCharactersOffline(ctx context.Context, accountID string, nowMs int64) error

	AreFriends(ctx context.Context, handle, peerHandle string) (bool, error)
	ListFriends(ctx context.Context, handle string) ([]storage.CharacterRow, error)
	CreateFriendRequest(ctx context.Context, fromHandle, toHandle, message string, nowMs int64) (storage.FriendRequestRow, error)
	ListPendingRequests(ctx context.Context, toHandle string) ([]storage.FriendRequestRow, error)
	AcceptFriendRequest(ctx context.Context, requestID, byHandle string, nowMs int64) (storage.FriendRequestRow, error)
	RejectFriendRequest(ctx context.Context, requestID, byHandle string, nowMs int64) (storage.FriendRequestRow, error)

	SaveOfflineMessage(ctx context.Context, fromHandle, toHandle, content string, nowMs int64) (storage.OfflineMessageRow, error)
	ListUndeliveredMessages(ctx context.Context, toHandle string) ([]storage.OfflineMessageRow, error)
	MarkOfflineDelivered(ctx context.Context, ids []string) error

	CreateGroup(ctx context.Context, name, creatorHandle string, creatorPersona storage.Persona, nowMs int64) (storage.GroupRow, error)
	GetGroup(ctx context.Context, groupID string) (storage.GroupRow, error)
	ListMemberGroups(ctx context.Context, handle string) ([]storage.GroupRow, error)
	GetGroupMember(ctx context.Context, groupID, handle string) (storage.GroupMemberRow, error)
	UpsertGroupMember(ctx context.Context, groupID, handle string, persona storage.Persona, nowMs int64) (bool, error)
	UpdateGroupMemberPersona(ctx context.Context, groupID, handle string, persona storage.Persona) error
	ListGroupMembers(ctx context.Context, groupID string) ([]storage.GroupMemberRow, error)
	SaveGroupMessage(ctx context.Context, groupID, senderKind, senderHandle, senderName, personaName, content, msgKind string, nowMs int64) (storage.GroupMessageRow, error)
	ListGroupMessages(ctx context.Context, groupID string, limit int, sinceMs int64) ([]storage.GroupMessageRow, error)
}
