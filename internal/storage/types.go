package storage

import "errors"

const (
	FriendRequestStatusPending  = "pending"
	FriendRequestStatusAccepted = "accepted"
	FriendRequestStatusRejected = "rejected"
)

const (
	SenderKindUser      = "user"
	SenderKindCharacter = "character"
)

const GroupMessageKindText = "text"

var (
	ErrNotFound        = errors.New("not found")
	ErrUsernameExists  = errors.New("username exists")
	ErrHandleTaken     = errors.New("handle owned by another account")
	ErrAlreadyFriends  = errors.New("already friends")
	ErrRequestResolved = errors.New("friend request already resolved")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenExpired    = errors.New("token expired")
)

type AccountRow struct {
	ID           string
	Username     string
	Email        *string
	PasswordHash string
	CreatedAtMs  int64
	LastLoginMs  *int64
}

type AuthTokenRow struct {
	Token       string
	AccountID   string
	CreatedAtMs int64
	ExpiresAtMs int64
}

type CharacterRow struct {
	ID          string
	AccountID   string
	Handle      string
	Nickname    string
	Avatar      string
	Bio         string
	Online      bool
	LastSeenMs  int64
	CreatedAtMs int64
}

type FriendRequestRow struct {
	ID          string
	FromHandle  string
	ToHandle    string
	Message     string
	Status      string
	CreatedAtMs int64
	UpdatedAtMs int64
}

type OfflineMessageRow struct {
	ID          string
	FromHandle  string
	ToHandle    string
	Content     string
	CreatedAtMs int64
	Delivered   bool
}

type GroupRow struct {
	ID            string
	Name          string
	Avatar        string
	CreatorHandle string
	CreatedAtMs   int64
}

// Persona is the display identity a member registers inside one group,
// separate from the character's own profile.
type Persona struct {
	Name   string
	Avatar string
	Desc   string
}

type GroupMemberRow struct {
	ID         string
	GroupID    string
	Handle     string
	Persona    Persona
	JoinedAtMs int64
}

type GroupMessageRow struct {
	ID           string
	GroupID      string
	SenderKind   string
	SenderHandle string
	SenderName   string
	PersonaName  string
	Content      string
	MsgKind      string
	CreatedAtMs  int64
}
