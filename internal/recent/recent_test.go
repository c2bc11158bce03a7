package recent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"palaver/internal/coord"
	"palaver/internal/models"
)

func newTestCache(t *testing.T, size int) (*Cache, *coord.Memory) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := coord.NewMemory(ctx)
	return New(store, time.Minute, size), store
}

func msg(id string, ts int64) models.Message {
	return models.Message{ID: id, RoomID: "general", Type: models.MessageTypeText, Content: "m", Timestamp: ts}
}

func TestCache_MissIsNotFound(t *testing.T) {
	c, _ := newTestCache(t, 5)
	_, err := c.Get(context.Background(), "general")
	if !errors.Is(err, coord.ErrNotFound) {
		t.Errorf("err = %v, want coord.ErrNotFound", err)
	}
}

func TestCache_PutGetRoundtrip(t *testing.T) {
	c, _ := newTestCache(t, 5)
	ctx := context.Background()

	window := []models.Message{msg("a", 1000), msg("b", 2000)}
	if err := c.Put(ctx, "general", window); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, "general")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("window = %v", got)
	}
}

func TestCache_PutTrimsToNewest(t *testing.T) {
	c, _ := newTestCache(t, 3)
	ctx := context.Background()

	var window []models.Message
	for i := 1; i <= 5; i++ {
		window = append(window, msg(fmt.Sprintf("m%d", i), int64(i*1000)))
	}
	if err := c.Put(ctx, "general", window); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, _ := c.Get(ctx, "general")
	if len(got) != 3 || got[0].ID != "m3" || got[2].ID != "m5" {
		t.Errorf("window = %v, want the newest three", got)
	}
}

func TestCache_AppendEvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, 3)
	ctx := context.Background()

	if err := c.Put(ctx, "general", []models.Message{msg("a", 1000), msg("b", 2000), msg("c", 3000)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(ctx, "general", msg("d", 4000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, _ := c.Get(ctx, "general")
	if len(got) != 3 || got[0].ID != "b" || got[2].ID != "d" {
		t.Errorf("window = %v, want [b c d]", got)
	}
}

func TestCache_AppendToMissStaysMiss(t *testing.T) {
	c, _ := newTestCache(t, 3)
	ctx := context.Background()

	if err := c.Append(ctx, "general", msg("a", 1000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := c.Get(ctx, "general"); !errors.Is(err, coord.ErrNotFound) {
		t.Errorf("a miss must stay a miss after Append, got %v", err)
	}
}

func TestCache_Remove(t *testing.T) {
	c, _ := newTestCache(t, 3)
	ctx := context.Background()

	if err := c.Put(ctx, "general", []models.Message{msg("a", 1000), msg("b", 2000), msg("c", 3000)}); err != nil {
		t.Fatal(err)
	}

	if err := c.Remove(ctx, "general", "b"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, _ := c.Get(ctx, "general")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("window = %v, want [a c]", got)
	}

	// Removing a message outside the window, or with no window at all, is a
	// no-op.
	if err := c.Remove(ctx, "general", "zzz"); err != nil {
		t.Errorf("Remove of unknown message returned %v", err)
	}
	if err := c.Remove(ctx, "empty-room", "a"); err != nil {
		t.Errorf("Remove of empty room returned %v", err)
	}
	if _, err := c.Get(ctx, "empty-room"); !errors.Is(err, coord.ErrNotFound) {
		t.Error("a miss must stay a miss after Remove")
	}
}

func TestCache_Patch(t *testing.T) {
	c, _ := newTestCache(t, 3)
	ctx := context.Background()

	if err := c.Put(ctx, "general", []models.Message{msg("a", 1000), msg("b", 2000)}); err != nil {
		t.Fatal(err)
	}

	if err := c.Patch(ctx, "general", "b", func(m *models.Message) {
		m.AddReaction("👍", "alice")
	}); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}

	got, _ := c.Get(ctx, "general")
	if len(got[1].Reactions["👍"]) != 1 {
		t.Errorf("patched message = %+v", got[1])
	}
	if got[0].Reactions != nil {
		t.Errorf("untouched message gained reactions: %+v", got[0])
	}

	// Patching a message outside the window, or with no window at all, is a
	// no-op.
	if err := c.Patch(ctx, "general", "zzz", func(m *models.Message) { m.Content = "x" }); err != nil {
		t.Errorf("Patch of unknown message returned %v", err)
	}
	if err := c.Patch(ctx, "empty-room", "a", func(m *models.Message) { m.Content = "x" }); err != nil {
		t.Errorf("Patch of empty room returned %v", err)
	}
}
