package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestUpsertCharacterOnline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	alice, err := store.CreateAccount(ctx, "alice", nil, "hash", nowMs)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := store.CreateAccount(ctx, "bob", nil, "hash", nowMs)
	if err != nil {
		t.Fatal(err)
	}

	char, err := store.UpsertCharacterOnline(ctx, alice.ID, "wx_a", "Alice", "", "bio", nowMs)
	if err != nil {
		t.Fatalf("UpsertCharacterOnline() error = %v", err)
	}
	if !char.Online {
		t.Fatal("expected character to be online")
	}

	// Same account re-claims the handle with a new profile.
	updated, err := store.UpsertCharacterOnline(ctx, alice.ID, "wx_a", "Alice2", "a.png", "bio2", nowMs+1)
	if err != nil {
		t.Fatalf("re-upsert error = %v", err)
	}
	if updated.ID != char.ID {
		t.Fatalf("id changed on update: %s vs %s", updated.ID, char.ID)
	}
	if updated.Nickname != "Alice2" || updated.Avatar != "a.png" {
		t.Fatalf("profile not updated: %+v", updated)
	}

	// A different account may not claim the handle.
	if _, err := store.UpsertCharacterOnline(ctx, bob.ID, "wx_a", "Bob", "", "", nowMs+2); !errors.Is(err, ErrHandleTaken) {
		t.Fatalf("cross-account claim error = %v, want ErrHandleTaken", err)
	}
	got, err := store.GetCharacterByHandle(ctx, "wx_a")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccountID != alice.ID || got.Nickname != "Alice2" {
		t.Fatalf("failed claim mutated record: %+v", got)
	}
}

func TestCharacterOfflineSweeps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	alice, err := store.CreateAccount(ctx, "alice", nil, "hash", nowMs)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range []string{"wx_1", "wx_2"} {
		if _, err := store.UpsertCharacterOnline(ctx, alice.ID, h, "n", "", "", nowMs); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.SetCharacterOffline(ctx, "wx_1", nowMs+1); err != nil {
		t.Fatalf("SetCharacterOffline() error = %v", err)
	}
	c1, _ := store.GetCharacterByHandle(ctx, "wx_1")
	c2, _ := store.GetCharacterByHandle(ctx, "wx_2")
	if c1.Online || !c2.Online {
		t.Fatalf("online flags = %v/%v, want false/true", c1.Online, c2.Online)
	}
	if c1.LastSeenMs != nowMs+1 {
		t.Fatalf("last seen = %d, want %d", c1.LastSeenMs, nowMs+1)
	}

	if err := store.SetAccountCharactersOffline(ctx, alice.ID, nowMs+2); err != nil {
		t.Fatalf("SetAccountCharactersOffline() error = %v", err)
	}
	chars, err := store.ListAccountCharacters(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chars {
		if c.Online {
			t.Fatalf("character %s still online after account sweep", c.Handle)
		}
	}

	if _, err := store.UpsertCharacterOnline(ctx, alice.ID, "wx_1", "n", "", "", nowMs+3); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkAllCharactersOffline(ctx, nowMs+4); err != nil {
		t.Fatalf("MarkAllCharactersOffline() error = %v", err)
	}
	c1, _ = store.GetCharacterByHandle(ctx, "wx_1")
	if c1.Online {
		t.Fatal("character still online after shutdown sweep")
	}
}
