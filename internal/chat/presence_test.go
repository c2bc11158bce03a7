package chat

import (
	"context"
	"testing"
	"time"

	"palaver/internal/coord"
	"palaver/internal/models"
)

func TestRegisterPresence_FirstConnection(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.svc.RegisterPresence(ctx, ident("alice"), "conn-1", "ua", "1.2.3.4"); err != nil {
		t.Fatalf("RegisterPresence failed: %v", err)
	}

	got, err := f.store.Get(ctx, coord.PresenceKey("alice"))
	if err != nil || got != "conn-1" {
		t.Errorf("presence = %q, %v; want conn-1", got, err)
	}
	if len(f.events.sends) != 0 || len(f.events.closes) != 0 {
		t.Errorf("no events expected for a first connection, got sends=%d closes=%d",
			len(f.events.sends), len(f.events.closes))
	}
}

func TestRegisterPresence_TakeoverAfterGrace(t *testing.T) {
	f := newFixture(t, Config{TakeoverGrace: 20 * time.Millisecond})
	ctx := context.Background()

	if err := f.svc.RegisterPresence(ctx, ident("alice"), "conn-old", "ua", "ip"); err != nil {
		t.Fatalf("first RegisterPresence failed: %v", err)
	}
	// Old connection never acts on the warning, so the grace period expires
	// and it is force-closed.
	if err := f.svc.RegisterPresence(ctx, ident("alice"), "conn-new", "phone", "5.6.7.8"); err != nil {
		t.Fatalf("second RegisterPresence failed: %v", err)
	}

	warns := f.events.sendsTo("conn-old")
	if len(warns) != 1 || warns[0].Type != models.EventDuplicateLoginWarning {
		t.Fatalf("expected one duplicateLoginWarning to conn-old, got %v", warns)
	}
	if warns[0].DeviceInfo != "phone" || warns[0].IPAddress != "5.6.7.8" {
		t.Errorf("warning should carry the new device info, got %+v", warns[0])
	}

	if len(f.events.closes) != 1 || f.events.closes[0].connID != "conn-old" {
		t.Fatalf("expected conn-old to be closed, got %v", f.events.closes)
	}
	if f.events.closes[0].ev.Type != models.EventSessionEnded {
		t.Errorf("close event type = %v, want sessionEnded", f.events.closes[0].ev.Type)
	}

	got, _ := f.store.Get(ctx, coord.PresenceKey("alice"))
	if got != "conn-new" {
		t.Errorf("presence = %q, want conn-new", got)
	}
}

func TestRegisterPresence_OldConnectionClosesWithinGrace(t *testing.T) {
	f := newFixture(t, Config{TakeoverGrace: time.Minute})
	ctx := context.Background()

	if err := f.svc.RegisterPresence(ctx, ident("alice"), "conn-old", "ua", "ip"); err != nil {
		t.Fatalf("first RegisterPresence failed: %v", err)
	}

	// The old connection goes away on its own shortly after the warning.
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.events.finish("conn-old")
	}()

	start := time.Now()
	if err := f.svc.RegisterPresence(ctx, ident("alice"), "conn-new", "ua", "ip"); err != nil {
		t.Fatalf("second RegisterPresence failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("takeover waited the full grace period despite early close (%v)", elapsed)
	}

	if len(f.events.closes) != 0 {
		t.Errorf("no force close expected when the old connection exits itself, got %v", f.events.closes)
	}
	got, _ := f.store.Get(ctx, coord.PresenceKey("alice"))
	if got != "conn-new" {
		t.Errorf("presence = %q, want conn-new", got)
	}
}

func TestRegisterPresence_StaleRecordOnAnotherProcess(t *testing.T) {
	f := newFixture(t, Config{TakeoverGrace: time.Minute})
	ctx := context.Background()

	// Presence names a connection this process has never seen; the warning is
	// undeliverable and the takeover proceeds without waiting.
	_ = f.store.Set(ctx, coord.PresenceKey("alice"), "conn-elsewhere", 0)
	f.events.deadConns["conn-elsewhere"] = true

	start := time.Now()
	if err := f.svc.RegisterPresence(ctx, ident("alice"), "conn-new", "ua", "ip"); err != nil {
		t.Fatalf("RegisterPresence failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("takeover should not wait for an unreachable connection (%v)", elapsed)
	}

	got, _ := f.store.Get(ctx, coord.PresenceKey("alice"))
	if got != "conn-new" {
		t.Errorf("presence = %q, want conn-new", got)
	}
}

func TestDropPresence_OnlyForOwner(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_ = f.store.Set(ctx, coord.PresenceKey("alice"), "conn-current", 0)

	// A stale connection's teardown must not evict the current session.
	if err := f.svc.DropPresence(ctx, "alice", "conn-stale"); err != nil {
		t.Fatalf("DropPresence failed: %v", err)
	}
	if got, _ := f.store.Get(ctx, coord.PresenceKey("alice")); got != "conn-current" {
		t.Errorf("presence = %q, want conn-current to survive", got)
	}

	if err := f.svc.DropPresence(ctx, "alice", "conn-current"); err != nil {
		t.Fatalf("DropPresence failed: %v", err)
	}
	if _, err := f.store.Get(ctx, coord.PresenceKey("alice")); err == nil {
		t.Error("presence record should be gone after the owner drops it")
	}

	// Dropping when no record exists is a no-op.
	if err := f.svc.DropPresence(ctx, "alice", "conn-current"); err != nil {
		t.Errorf("DropPresence on missing record: %v", err)
	}
}

func TestOnline(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if f.svc.Online(ctx, "alice") {
		t.Error("alice should be offline")
	}
	_ = f.store.Set(ctx, coord.PresenceKey("alice"), "conn-1", 0)
	if !f.svc.Online(ctx, "alice") {
		t.Error("alice should be online")
	}
	if !f.svc.HoldsPresence(ctx, "alice", "conn-1") {
		t.Error("conn-1 should hold presence")
	}
	if f.svc.HoldsPresence(ctx, "alice", "conn-2") {
		t.Error("conn-2 should not hold presence")
	}
}
