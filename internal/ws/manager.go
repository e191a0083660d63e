package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relay-backend/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 20
)

const sendBuffer = 128

// client is one websocket connection. It satisfies relay.Conn: Push is
// non-blocking, and a refused push (full buffer or closed channel) tears the
// connection down rather than stalling the routing engine.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func (c *client) Push(v any) bool {
	b, err := encodeJSON(v)
	if err != nil {
		return false
	}
	if c.trySend(b) {
		return true
	}
	c.close()
	return false
}

func (c *client) Close() {
	c.close()
}

func (c *client) trySend(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

type Manager struct {
	logger     *slog.Logger
	engine     *relay.Engine
	dispatcher *relay.Dispatcher

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewManager(logger *slog.Logger, engine *relay.Engine, dispatcher *relay.Dispatcher) *Manager {
	return &Manager{
		logger:     logger.With("component", "ws"),
		engine:     engine,
		dispatcher: dispatcher,
		clients:    make(map[*client]struct{}),
	}
}

func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(m.handle)
}

func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// IdentityCount is the number of identity handles currently bound across all
// connections, reported by the health endpoint.
func (m *Manager) IdentityCount() int {
	return m.engine.Registry().BoundCount()
}

func (m *Manager) CloseAll() {
	clients := m.snapshotClients()
	for _, c := range clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeWait),
		)
		c.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (m *Manager) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	m.track(c)
	defer m.untrack(c)
	defer c.close()

	sess := relay.NewSession(c)
	defer m.engine.Disconnect(context.Background(), sess)

	m.logger.Info("ws connected", "remoteAddr", r.RemoteAddr)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go m.writePump(c, r.RemoteAddr)

	// A token presented at upgrade authenticates before the first frame;
	// clients may instead authenticate in-band.
	m.engine.PreAuthenticate(r.Context(), sess, extractToken(r))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.logger.Info("ws disconnected", "remoteAddr", r.RemoteAddr, "error", err)
			return
		}
		m.dispatcher.Dispatch(context.Background(), sess, msg)
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

func (m *Manager) writePump(c *client, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Info("ws write failed", "remoteAddr", remoteAddr, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (m *Manager) snapshotClients() []*client {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

func (m *Manager) track(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
}

func (m *Manager) untrack(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
