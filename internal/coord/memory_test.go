package coord

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func newTestMemory(t *testing.T) (*Memory, *time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := NewMemory(ctx)
	current := time.Unix(1700000000, 0)
	m.now = func() time.Time { return current }
	return m, &current
}

func TestMemory_GetSetDel(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := m.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Errorf("Get = %q, %v; want v, nil", v, err)
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory_TTL(t *testing.T) {
	m, current := newTestMemory(t)
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	*current = current.Add(61 * time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemory_Expire(t *testing.T) {
	m, current := newTestMemory(t)
	ctx := context.Background()

	if err := m.Expire(ctx, "missing", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expire on missing key = %v, want ErrNotFound", err)
	}

	_ = m.Set(ctx, "k", "v", time.Second)
	if err := m.Expire(ctx, "k", time.Hour); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	*current = current.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Errorf("key should survive after Expire extended it: %v", err)
	}
}

func TestMemory_Keys(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	_ = m.Set(ctx, "cache:roomlist:a", "1", 0)
	_ = m.Set(ctx, "cache:roomlist:b", "1", 0)
	_ = m.Set(ctx, "cache:messages:r1", "1", 0)

	keys, err := m.Keys(ctx, "cache:roomlist:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "cache:roomlist:a" || keys[1] != "cache:roomlist:b" {
		t.Errorf("Keys = %v, want the two roomlist keys", keys)
	}
}

func TestMemory_Sets(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	_ = m.AddToSet(ctx, "s", "a")
	_ = m.AddToSet(ctx, "s", "b")
	_ = m.AddToSet(ctx, "s", "a") // duplicate add is a no-op

	members, err := m.Members(ctx, "s")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Members = %v, want 2 entries", members)
	}

	_ = m.RemoveFromSet(ctx, "s", "a")
	members, _ = m.Members(ctx, "s")
	if len(members) != 1 || members[0] != "b" {
		t.Errorf("Members after remove = %v, want [b]", members)
	}

	// Removing from a missing set is a no-op.
	if err := m.RemoveFromSet(ctx, "nope", "x"); err != nil {
		t.Errorf("RemoveFromSet on missing set: %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	type payload struct {
		A string `msgpack:"a"`
		B int64  `msgpack:"b"`
	}
	raw, err := Encode(payload{A: "x", B: 42})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var got payload
	if err := Decode(raw, &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.A != "x" || got.B != 42 {
		t.Errorf("roundtrip = %+v", got)
	}
}
