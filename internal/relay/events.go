package relay

// Outbound event payloads. Field names are part of the wire contract; clients
// match on the "type" tag.

type PongEvent struct {
	Type string `json:"type"`
}

type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type RegisterSuccessEvent struct {
	Type  string   `json:"type"`
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

type LoginSuccessEvent struct {
	Type  string   `json:"type"`
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

type AuthSuccessEvent struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

type AuthFailedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type LogoutSuccessEvent struct {
	Type string `json:"type"`
}

type CharacterOnlineEvent struct {
	Type     string `json:"type"`
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
}

type CharacterOfflineEvent struct {
	Type   string `json:"type"`
	Handle string `json:"handle"`
}

type CharacterInfo struct {
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Bio      string `json:"bio"`
}

type OnlineCharactersEvent struct {
	Type       string          `json:"type"`
	Characters []CharacterInfo `json:"characters"`
}

// SearchResult omits the bio on purpose: profile text is private to friends.
type SearchResult struct {
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
}

type SearchResultEvent struct {
	Type   string        `json:"type"`
	Result *SearchResult `json:"result"`
}

type FriendRequestInfo struct {
	ID           string `json:"id"`
	FromHandle   string `json:"from_handle"`
	FromNickname string `json:"from_nickname"`
	FromAvatar   string `json:"from_avatar"`
	Message      string `json:"message"`
	Time         int64  `json:"time"`
}

type FriendRequestEvent struct {
	Type    string            `json:"type"`
	Request FriendRequestInfo `json:"request"`
}

type PendingFriendRequestsEvent struct {
	Type     string              `json:"type"`
	Requests []FriendRequestInfo `json:"requests"`
}

type FriendRequestAcceptedEvent struct {
	Type           string `json:"type"`
	FriendHandle   string `json:"friend_handle"`
	FriendNickname string `json:"friend_nickname"`
	FriendAvatar   string `json:"friend_avatar"`
	FriendBio      string `json:"friend_bio"`
}

type FriendRequestRejectedEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type FriendInfo struct {
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
}

type FriendsListEvent struct {
	Type    string       `json:"type"`
	Friends []FriendInfo `json:"friends"`
}

type MessageEvent struct {
	Type         string `json:"type"`
	FromHandle   string `json:"from_handle"`
	FromNickname string `json:"from_nickname"`
	FromAvatar   string `json:"from_avatar"`
	Content      string `json:"content"`
	Timestamp    int64  `json:"timestamp"`
}

type GroupInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CreatorHandle string `json:"creator_handle"`
	CreatedAt     int64  `json:"created_at"`
}

type GroupCreatedEvent struct {
	Type  string    `json:"type"`
	Group GroupInfo `json:"group"`
}

type GroupInviteEvent struct {
	Type          string `json:"type"`
	GroupID       string `json:"group_id"`
	GroupName     string `json:"group_name"`
	InviterHandle string `json:"inviter_handle"`
	InviterName   string `json:"inviter_name"`
}

type GroupJoinedEvent struct {
	Type  string    `json:"type"`
	Group GroupInfo `json:"group"`
}

type GroupMemberJoinedInfo struct {
	Handle        string `json:"handle"`
	Nickname      string `json:"nickname"`
	Avatar        string `json:"avatar"`
	PersonaName   string `json:"persona_name,omitempty"`
	PersonaAvatar string `json:"persona_avatar,omitempty"`
}

type GroupMemberJoinedEvent struct {
	Type    string                `json:"type"`
	GroupID string                `json:"group_id"`
	Member  GroupMemberJoinedInfo `json:"member"`
}

type GroupsListEvent struct {
	Type   string      `json:"type"`
	Groups []GroupInfo `json:"groups"`
}

type GroupMessageInfo struct {
	ID           string `json:"id"`
	SenderKind   string `json:"sender_kind"`
	SenderHandle string `json:"sender_handle"`
	SenderName   string `json:"sender_name"`
	PersonaName  string `json:"persona_name,omitempty"`
	Content      string `json:"content"`
	MsgKind      string `json:"msg_kind"`
	Timestamp    int64  `json:"timestamp"`
}

type GroupMessagesEvent struct {
	Type     string             `json:"type"`
	GroupID  string             `json:"group_id"`
	Messages []GroupMessageInfo `json:"messages"`
}

type GroupMessageEvent struct {
	Type    string           `json:"type"`
	GroupID string           `json:"group_id"`
	Message GroupMessageInfo `json:"message"`
}

type GroupMemberInfo struct {
	Handle        string `json:"handle"`
	Nickname      string `json:"nickname"`
	Avatar        string `json:"avatar"`
	IsOnline      bool   `json:"is_online"`
	PersonaName   string `json:"persona_name,omitempty"`
	PersonaAvatar string `json:"persona_avatar,omitempty"`
	PersonaDesc   string `json:"persona_desc,omitempty"`
	JoinedAt      int64  `json:"joined_at"`
}

type GroupMembersEvent struct {
	Type    string            `json:"type"`
	GroupID string            `json:"group_id"`
	Members []GroupMemberInfo `json:"members"`
}

type PersonaInfo struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Desc   string `json:"desc,omitempty"`
}

type GroupCharacterUpdatedEvent struct {
	Type      string      `json:"type"`
	GroupID   string      `json:"group_id"`
	Handle    string      `json:"handle"`
	Character PersonaInfo `json:"character"`
}

type GroupTypingStartEvent struct {
	Type        string `json:"type"`
	GroupID     string `json:"group_id"`
	Handle      string `json:"handle"`
	PersonaName string `json:"persona_name,omitempty"`
}

type GroupTypingStopEvent struct {
	Type    string `json:"type"`
	GroupID string `json:"group_id"`
	Handle  string `json:"handle"`
}
