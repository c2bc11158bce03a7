// Package recent maintains the per-room recent-message cache in the
// coordination store. The cache is an optimization only: every operation
// here is safe to lose, and callers must behave identically on a miss.
package recent

import (
	"context"
	"time"

	"palaver/internal/coord"
	"palaver/internal/models"
)

type Cache struct {
	store coord.Store
	ttl   time.Duration
	size  int
}

func New(store coord.Store, ttl time.Duration, size int) *Cache {
	return &Cache{store: store, ttl: ttl, size: size}
}

// Get returns the cached window for a room in ascending timestamp order, or
// coord.ErrNotFound on a miss.
func (c *Cache) Get(ctx context.Context, roomID string) ([]models.Message, error) {
	raw, err := c.store.Get(ctx, coord.RecentMessagesKey(roomID))
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := coord.Decode(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Put replaces the cached window. Messages must be in ascending timestamp
// order; only the newest entries up to the window size are kept.
func (c *Cache) Put(ctx context.Context, roomID string, msgs []models.Message) error {
	if len(msgs) > c.size {
		msgs = msgs[len(msgs)-c.size:]
	}
	raw, err := coord.Encode(msgs)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, coord.RecentMessagesKey(roomID), raw, c.ttl)
}

// Append adds one message to the end of the cached window, evicting the
// oldest entry when over capacity. A miss is left as a miss: the next
// initial-page load rebuilds the window from the store.
func (c *Cache) Append(ctx context.Context, roomID string, msg models.Message) error {
	msgs, err := c.Get(ctx, roomID)
	if err != nil {
		return nil
	}
	msgs = append(msgs, msg)
	return c.Put(ctx, roomID, msgs)
}

// Remove drops one message from the cached window, if the window holds it.
func (c *Cache) Remove(ctx context.Context, roomID, messageID string) error {
	msgs, err := c.Get(ctx, roomID)
	if err != nil {
		return nil
	}
	for i := range msgs {
		if msgs[i].ID == messageID {
			return c.Put(ctx, roomID, append(msgs[:i:i], msgs[i+1:]...))
		}
	}
	return nil
}

// Patch rewrites one cached message in place, if the window holds it.
func (c *Cache) Patch(ctx context.Context, roomID, messageID string, patch func(*models.Message)) error {
	msgs, err := c.Get(ctx, roomID)
	if err != nil {
		return nil
	}
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			patch(&msgs[i])
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	return c.Put(ctx, roomID, msgs)
}
