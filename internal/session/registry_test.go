package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"collabdocs/server/internal/access"
	"collabdocs/server/internal/protocol"
	"collabdocs/server/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	st := store.New(rdb)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(st, logger), st
}

func TestKey(t *testing.T) {
	if got := Key("d1", "Sheet 1"); got != "d1::Sheet 1" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestRegistrySingleSessionPerKey(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a := reg.Acquire("d1::t")
	b := reg.Acquire("d1::t")
	if a != b {
		t.Fatal("two sessions for one key")
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d", reg.Len())
	}

	other := reg.Acquire("d2::t")
	if other == a {
		t.Fatal("distinct keys share a session")
	}

	reg.Release("d1::t")
	if reg.Len() != 2 {
		t.Fatalf("Len() after partial release = %d", reg.Len())
	}
	reg.Release("d1::t")
	if reg.Len() != 1 {
		t.Fatalf("session not evicted at zero refs: Len() = %d", reg.Len())
	}

	// Releasing an unknown key must not panic or underflow.
	reg.Release("d1::t")
	reg.Release("never-acquired")
}

func TestRegistryEvictionKeepsPersistedState(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	sess := reg.Acquire("d1::t")
	alice := &fakeTransport{}
	aliceID := sess.AddUser(ctx, alice, "alice", access.RoleOwner)
	sess.HandleEdit(ctx, aliceID, protocol.Operation{Type: protocol.OpUpdate, Content: "kept"})
	sess.RemoveUser(aliceID)
	reg.Release("d1::t")

	if reg.Len() != 0 {
		t.Fatalf("Len() after eviction = %d", reg.Len())
	}
	if content, ok, err := st.Content(ctx, "d1::t"); err != nil || !ok || content != "kept" {
		t.Fatalf("persisted content after eviction = (%q, %v, %v)", content, ok, err)
	}

	// A fresh session for the same key sees the saved document.
	fresh := reg.Acquire("d1::t")
	if fresh == sess {
		t.Fatal("evicted session was reused")
	}
	bob := &fakeTransport{}
	fresh.AddUser(ctx, bob, "bob", access.RoleEditor)
	if got := bob.lastOfType(t, protocol.MsgSync); got["content"] != "kept" {
		t.Fatalf("rejoined session sync = %v", got)
	}
}
