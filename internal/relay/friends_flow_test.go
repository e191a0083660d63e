package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

func TestFriendRequestLifecycle(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")

	e.handleFriendRequest(ctx, sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b","message":"hello"}`))

	req, ok := findEvent[FriendRequestEvent](connB.take())
	if !ok {
		t.Fatal("online target got no friend_request push")
	}
	if req.Request.FromHandle != "wx_a" || req.Request.FromNickname != "Alice" || req.Request.Message != "hello" {
		t.Fatalf("request = %+v", req.Request)
	}

	accept := fmt.Sprintf(`{"request_id":%q,"my_handle":"wx_b"}`, req.Request.ID)
	e.handleAcceptFriendRequest(ctx, sessB, json.RawMessage(accept))

	// Both sides learn the other's current profile.
	evB, ok := findEvent[FriendRequestAcceptedEvent](connB.take())
	if !ok || evB.FriendHandle != "wx_a" || evB.FriendNickname != "Alice" {
		t.Fatalf("acceptor event = %+v", evB)
	}
	evA, ok := findEvent[FriendRequestAcceptedEvent](connA.take())
	if !ok || evA.FriendHandle != "wx_b" || evA.FriendNickname != "Bob" {
		t.Fatalf("requester event = %+v", evA)
	}

	friends, err := store.AreFriends(ctx, "wx_b", "wx_a")
	if err != nil {
		t.Fatal(err)
	}
	if !friends {
		t.Fatal("acceptance did not create the friendship")
	}

	// Terminal state: a second resolution fails.
	e.handleAcceptFriendRequest(ctx, sessB, json.RawMessage(accept))
	ev, ok := findEvent[ErrorEvent](connB.take())
	if !ok || ev.Code != CodeAlreadyResolved {
		t.Fatalf("got %+v, want ALREADY_RESOLVED", ev)
	}

	// And a second request between friends fails up front.
	e.handleFriendRequest(ctx, sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b"}`))
	ev, ok = findEvent[ErrorEvent](connA.take())
	if !ok || ev.Code != CodeAlreadyFriends {
		t.Fatalf("got %+v, want ALREADY_FRIENDS", ev)
	}
}

func TestFriendRequestUnknownTarget(t *testing.T) {
	e, store := newTestEngine(t)
	sessA, connA := loginSession(t, store, "alice")
	goOnline(t, e, sessA, connA, "wx_a", "Alice")

	e.handleFriendRequest(context.Background(), sessA, json.RawMessage(`{"from":"wx_a","to":"wx_ghost"}`))

	ev, ok := findEvent[ErrorEvent](connA.take())
	if !ok || ev.Code != CodeUnknownTarget {
		t.Fatalf("got %+v, want UNKNOWN_TARGET", ev)
	}
}

func TestFriendRequestReject(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")

	e.handleFriendRequest(ctx, sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b"}`))
	req, _ := findEvent[FriendRequestEvent](connB.take())

	reject := fmt.Sprintf(`{"request_id":%q,"my_handle":"wx_b"}`, req.Request.ID)
	e.handleRejectFriendRequest(ctx, sessB, json.RawMessage(reject))

	ack, ok := findEvent[FriendRequestRejectedEvent](connB.take())
	if !ok || ack.RequestID != req.Request.ID {
		t.Fatalf("ack = %+v", ack)
	}

	friends, err := store.AreFriends(ctx, "wx_a", "wx_b")
	if err != nil {
		t.Fatal(err)
	}
	if friends {
		t.Fatal("rejection created a friendship")
	}
}

func TestPendingRequestsRedeliveredOnLogin(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")
	e.handleGoOffline(ctx, sessB, json.RawMessage(`{"handle":"wx_b"}`))
	connB.take()

	// Sent while the target is offline: no push, just the durable row.
	e.handleFriendRequest(ctx, sessA, json.RawMessage(`{"from":"wx_a","to":"wx_b","message":"psst"}`))
	if len(connB.take()) != 0 {
		t.Fatal("offline target must not be pushed to")
	}

	// Login drains it; a second login drains it again while still pending.
	for i := 0; i < 2; i++ {
		e.handleGoOnline(ctx, sessB, json.RawMessage(`{"handle":"wx_b","nickname":"Bob"}`))
		req, ok := findEvent[FriendRequestEvent](connB.take())
		if !ok || req.Request.Message != "psst" {
			t.Fatalf("login %d: request = %+v", i, req)
		}
		e.handleGoOffline(ctx, sessB, json.RawMessage(`{"handle":"wx_b"}`))
		connB.take()
	}
}

func TestGetFriendsList(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	sessA, connA := loginSession(t, store, "alice")
	sessB, connB := loginSession(t, store, "bob")

	goOnline(t, e, sessA, connA, "wx_a", "Alice")
	goOnline(t, e, sessB, connB, "wx_b", "Bob")
	befriend(t, store, "wx_a", "wx_b")

	e.handleGetFriends(ctx, sessA, json.RawMessage(`{"handle":"wx_a"}`))
	ev, ok := findEvent[FriendsListEvent](connA.take())
	if !ok || len(ev.Friends) != 1 {
		t.Fatalf("friends = %+v, want one entry", ev)
	}
	if ev.Friends[0].Handle != "wx_b" || !ev.Friends[0].IsOnline {
		t.Fatalf("friend entry = %+v", ev.Friends[0])
	}

	e.handleGoOffline(ctx, sessB, json.RawMessage(`{"handle":"wx_b"}`))
	e.handleGetFriends(ctx, sessA, json.RawMessage(`{"handle":"wx_a"}`))
	ev, _ = findEvent[FriendsListEvent](connA.take())
	if ev.Friends[0].IsOnline {
		t.Fatal("friend still reported online after go_offline")
	}
}
