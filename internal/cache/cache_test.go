package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/datagate/internal/domain"
)

var usersID = domain.CollectionIdentity{Instance: "core", Database: "app", Collection: "users"}

func TestKeyIsStableForEqualPayloads(t *testing.T) {
	a := Key(usersID, "query", map[string]any{"find": map[string]any{"age": 30}, "limit": 10})
	b := Key(usersID, "query", map[string]any{"limit": 10, "find": map[string]any{"age": 30}})
	if a != b {
		t.Fatalf("equivalent payloads produced different keys:\n%s\n%s", a, b)
	}
}

func TestKeyVariesByOperationAndCollection(t *testing.T) {
	payload := map[string]any{"find": map[string]any{"age": 30}}
	if Key(usersID, "query", payload) == Key(usersID, "count", payload) {
		t.Fatal("operation must be part of the key")
	}
	other := domain.CollectionIdentity{Instance: "core", Database: "app", Collection: "orders"}
	if Key(usersID, "query", payload) == Key(other, "query", payload) {
		t.Fatal("collection must be part of the key")
	}
}

func TestMemoryRoundTripAndMiss(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key(usersID, "query", nil)

	if _, err := m.Get(ctx, key); err != ErrMiss {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := m.Set(ctx, key, []byte(`{"data":[]}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"data":[]}` {
		t.Fatalf("got %s", got)
	}
}

func TestMemoryInvalidateCollectionIsScoped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	other := domain.CollectionIdentity{Instance: "core", Database: "app", Collection: "orders"}

	usersKey := Key(usersID, "query", nil)
	ordersKey := Key(other, "query", nil)
	_ = m.Set(ctx, usersKey, []byte("u"), 0)
	_ = m.Set(ctx, ordersKey, []byte("o"), 0)

	if err := m.InvalidateCollection(ctx, usersID); err != nil {
		t.Fatalf("InvalidateCollection: %v", err)
	}
	if _, err := m.Get(ctx, usersKey); err != ErrMiss {
		t.Fatal("users entry should be dropped")
	}
	if _, err := m.Get(ctx, ordersKey); err != nil {
		t.Fatal("orders entry should survive")
	}
}

func TestMemoryTTLExpires(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key(usersID, "count", nil)
	_ = m.Set(ctx, key, []byte("1"), time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	if _, err := m.Get(ctx, key); err != ErrMiss {
		t.Fatal("expired entry should miss")
	}
}
