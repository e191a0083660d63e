package relay

import "sync"

// Conn is the opaque transport handle for one live connection. Push must be
// non-blocking and best-effort: it reports whether the event was accepted for
// delivery, and implementations are expected to tear the connection down on
// failure rather than stall the caller.
type Conn interface {
	Push(v any) bool
	Close()
}

// Session is the in-memory state of one live connection: the authenticated
// account, if any, and nothing else. Which handles the session controls is
// tracked by the Registry, not here. Sessions are never persisted.
type Session struct {
	conn Conn

	mu        sync.Mutex
	accountID string
	authToken string
}

func NewSession(conn Conn) *Session {
	return &Session{conn: conn}
}

func (s *Session) Push(v any) bool {
	return s.conn.Push(v)
}

func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

func (s *Session) setAccount(accountID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountID = accountID
	s.authToken = token
}

func (s *Session) clearAccount() (token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = s.authToken
	s.accountID = ""
	s.authToken = ""
	return token
}
