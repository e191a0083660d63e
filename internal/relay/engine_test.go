package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relay-backend/internal/storage"
)

type fakeConn struct {
	mu     sync.Mutex
	refuse bool
	events []any
}

func (c *fakeConn) Push(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	c.events = append(c.events, v)
	return true
}

func (c *fakeConn) Close() {}

func (c *fakeConn) take() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

func findEvent[T any](events []any) (T, bool) {
	for _, e := range events {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store, err := storage.Open(context.Background(), "sqlite::memory:", logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	e := NewEngine(logger, store)
	// Strictly increasing clock so creation-order assertions never tie on
	// the same millisecond.
	tick := time.Now().UnixMilli()
	e.nowMs = func() int64 {
		return atomic.AddInt64(&tick, 1)
	}
	return e, store
}

// loginSession creates an account and returns a session authenticated as it.
func loginSession(t *testing.T, store *storage.Store, username string) (*Session, *fakeConn) {
	t.Helper()
	account, err := store.CreateAccount(context.Background(), username, nil, "hash", time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{}
	sess := NewSession(conn)
	sess.setAccount(account.ID, "")
	return sess, conn
}

func goOnline(t *testing.T, e *Engine, sess *Session, conn *fakeConn, handle, nickname string) {
	t.Helper()
	raw := json.RawMessage(fmt.Sprintf(`{"handle":%q,"nickname":%q}`, handle, nickname))
	e.handleGoOnline(context.Background(), sess, raw)
	events := conn.take()
	if _, ok := findEvent[CharacterOnlineEvent](events); !ok {
		t.Fatalf("go_online for %s produced %+v, want character_online", handle, events)
	}
}

// befriend wires a friendship directly through the request lifecycle.
func befriend(t *testing.T, store *storage.Store, a, b string) {
	t.Helper()
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()
	req, err := store.CreateFriendRequest(ctx, a, b, "", nowMs)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AcceptFriendRequest(ctx, req.ID, b, nowMs); err != nil {
		t.Fatal(err)
	}
}

func TestGoOnlineRequiresAuth(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := &fakeConn{}
	sess := NewSession(conn)

	e.handleGoOnline(context.Background(), sess, json.RawMessage(`{"handle":"wx_a","nickname":"A"}`))

	ev, ok := findEvent[ErrorEvent](conn.take())
	if !ok || ev.Code != CodeUnauthenticated {
		t.Fatalf("got %+v, want UNAUTHENTICATED error", ev)
	}
	if _, bound := e.reg.OwnerOf("wx_a"); bound {
		t.Fatal("unauthenticated go_online must not bind")
	}
}

func TestGoOnlineHandleConflict(t *testing.T) {
	e, store := newTestEngine(t)
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")

	e.handleGoOnline(context.Background(), sessB, json.RawMessage(`{"handle":"wx_a","nickname":"Imposter"}`))
	ev, ok := findEvent[ErrorEvent](connB.take())
	if !ok || ev.Code != CodeHandleConflict {
		t.Fatalf("got %+v, want HANDLE_CONFLICT error", ev)
	}

	// The failed claim changes no binding.
	if owner, _ := e.reg.OwnerOf("wx_a"); owner != sessA {
		t.Fatal("binding changed by failed claim")
	}
}

func TestGoOfflineOwnerOnly(t *testing.T) {
	e, store := newTestEngine(t)
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")

	// Not the owner: silent no-op.
	e.handleGoOffline(context.Background(), sessB, json.RawMessage(`{"handle":"wx_a"}`))
	if len(connB.take()) != 0 {
		t.Fatal("non-owner go_offline must be silent")
	}
	if _, ok := e.reg.OwnerOf("wx_a"); !ok {
		t.Fatal("binding lost to non-owner go_offline")
	}

	e.handleGoOffline(context.Background(), sessA, json.RawMessage(`{"handle":"wx_a"}`))
	if _, ok := findEvent[CharacterOfflineEvent](connA.take()); !ok {
		t.Fatal("expected character_offline ack")
	}
	if _, ok := e.reg.OwnerOf("wx_a"); ok {
		t.Fatal("binding survived go_offline")
	}
	char, err := store.GetCharacterByHandle(context.Background(), "wx_a")
	if err != nil {
		t.Fatal(err)
	}
	if char.Online {
		t.Fatal("character still online in store")
	}
}

func TestSendMessageNotFriends(t *testing.T) {
	e, store := newTestEngine(t)
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")

	e.handleSendMessage(context.Background(), sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b","content":"hi"}`))

	ev, ok := findEvent[ErrorEvent](connA.take())
	if !ok || ev.Code != CodeNotFriends {
		t.Fatalf("got %+v, want NOT_FRIENDS error", ev)
	}
	if len(connB.take()) != 0 {
		t.Fatal("non-friend message must not reach the target")
	}
	queued, err := store.ListUndeliveredMessages(context.Background(), "wx_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Fatal("non-friend message must not be queued")
	}
}

func TestSendMessageOnlinePushOnly(t *testing.T) {
	e, store := newTestEngine(t)
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")
	befriend(t, store, "wx_a", "wx_b")

	e.handleSendMessage(context.Background(), sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b","content":"hi"}`))

	msg, ok := findEvent[MessageEvent](connB.take())
	if !ok {
		t.Fatal("online recipient got no message event")
	}
	if msg.FromHandle != "wx_a" || msg.FromNickname != "Alice" || msg.Content != "hi" {
		t.Fatalf("message = %+v", msg)
	}

	// Online path never persists.
	queued, err := store.ListUndeliveredMessages(context.Background(), "wx_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Fatalf("queued = %d, want 0 for online recipient", len(queued))
	}
}

func TestSendMessageOfflineQueueOnly(t *testing.T) {
	e, store := newTestEngine(t)
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")
	befriend(t, store, "wx_a", "wx_b")
	e.handleGoOffline(context.Background(), sessB, json.RawMessage(`{"handle":"wx_b"}`))
	connB.take()

	e.handleSendMessage(context.Background(), sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b","content":"later"}`))

	if len(connB.take()) != 0 {
		t.Fatal("offline recipient must not be pushed to")
	}
	queued, err := store.ListUndeliveredMessages(context.Background(), "wx_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0].Content != "later" {
		t.Fatalf("queued = %+v, want one row", queued)
	}
}

func TestDrainOfflineOrderAndSingleDelivery(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")
	befriend(t, store, "wx_a", "wx_b")
	e.handleGoOffline(ctx, sessB, json.RawMessage(`{"handle":"wx_b"}`))
	connB.take()

	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{"from":"wx_a","to":"wx_b","content":"m%d"}`, i)
		e.handleSendMessage(ctx, sessA, json.RawMessage(payload))
	}

	// First login drains everything in creation order.
	e.handleGoOnline(ctx, sessB, json.RawMessage(`{"handle":"wx_b","nickname":"Bob"}`))
	var drained []string
	for _, ev := range connB.take() {
		if m, ok := ev.(MessageEvent); ok {
			drained = append(drained, m.Content)
		}
	}
	if len(drained) != 3 {
		t.Fatalf("drained = %v, want 3 messages", drained)
	}
	for i, content := range drained {
		if content != fmt.Sprintf("m%d", i) {
			t.Fatalf("drain order = %v", drained)
		}
	}

	// A repeat login redelivers nothing.
	e.handleGoOffline(ctx, sessB, json.RawMessage(`{"handle":"wx_b"}`))
	connB.take()
	e.handleGoOnline(ctx, sessB, json.RawMessage(`{"handle":"wx_b","nickname":"Bob"}`))
	for _, ev := range connB.take() {
		if _, ok := ev.(MessageEvent); ok {
			t.Fatal("message redelivered after successful drain")
		}
	}
}

func TestDrainOfflineDeadConnectionKeepsQueue(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	sessB, connB := loginSession(t, store, "bob")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")
	e.handleGoOffline(ctx, sessB, json.RawMessage(`{"handle":"wx_b"}`))
	connB.take()

	if _, err := store.SaveOfflineMessage(ctx, "wx_a", "wx_b", "m0", nowMs); err != nil {
		t.Fatal(err)
	}

	// The connection refuses every push; nothing may be marked delivered.
	connB.refuse = true
	e.handleGoOnline(ctx, sessB, json.RawMessage(`{"handle":"wx_b","nickname":"Bob"}`))

	queued, err := store.ListUndeliveredMessages(ctx, "wx_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 {
		t.Fatalf("queued = %d, want 1 after refused drain", len(queued))
	}
}

func TestDisconnectReleasesEverything(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")

	goOnline(t, e, sessA, connA, "wx_1", "One")
	goOnline(t, e, sessA, connA, "wx_2", "Two")

	e.Disconnect(ctx, sessA)

	for _, h := range []string{"wx_1", "wx_2"} {
		if _, ok := e.reg.OwnerOf(h); ok {
			t.Fatalf("%s still bound after disconnect", h)
		}
		char, err := store.GetCharacterByHandle(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		if char.Online {
			t.Fatalf("%s still online after disconnect", h)
		}
	}
}

func TestGetOnlineCharactersUnauthenticated(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := &fakeConn{}
	sess := NewSession(conn)

	e.handleGetOnlineCharacters(context.Background(), sess, nil)

	ev, ok := findEvent[OnlineCharactersEvent](conn.take())
	if !ok || len(ev.Characters) != 0 {
		t.Fatalf("got %+v, want empty list", ev)
	}
}

func TestSearchUserOmitsBio(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")

	account, err := store.CreateAccount(ctx, "bob", nil, "hash", time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertCharacterOnline(ctx, account.ID, "wx_b", "Bob", "b.png", "secret persona", time.Now().UnixMilli()); err != nil {
		t.Fatal(err)
	}

	e.handleSearchUser(ctx, sessA, json.RawMessage(`{"handle":"wx_b"}`))
	ev, ok := findEvent[SearchResultEvent](connA.take())
	if !ok || ev.Result == nil {
		t.Fatalf("got %+v, want a result", ev)
	}
	if ev.Result.Nickname != "Bob" || ev.Result.Avatar != "b.png" {
		t.Fatalf("result = %+v", ev.Result)
	}
	// The record is online in the store but not bound here.
	if ev.Result.IsOnline {
		t.Fatal("is_online must reflect live bindings, not the stored flag")
	}

	e.handleSearchUser(ctx, sessA, json.RawMessage(`{"handle":"wx_missing"}`))
	ev, _ = findEvent[SearchResultEvent](connA.take())
	if ev.Result != nil {
		t.Fatalf("missing handle result = %+v, want null", ev.Result)
	}
}
