package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"palaver/internal/coord"
	"palaver/internal/models"
)

// RegisterPresence enforces the single-session invariant for an identity.
// If another connection currently holds the presence record, it is warned,
// given the takeover grace period, and then force-closed. The final write is
// last-writer-wins with no generation check: a slow second connection can in
// theory clobber an even newer third connection's record. That race is
// accepted; the loser is always a connection already being terminated.
func (s *Service) RegisterPresence(ctx context.Context, identity models.Identity, connID, deviceInfo, ipAddress string) error {
	key := coord.PresenceKey(identity.ID)

	prev, err := s.store.Get(ctx, key)
	if err != nil && !errors.Is(err, coord.ErrNotFound) {
		return err
	}

	if err == nil && prev != connID {
		// SendTo only reaches connections on this process. An old connection
		// living elsewhere gets no warning from here; it notices the
		// rewritten record through its own presence check and ends itself.
		delivered := s.events.SendTo(prev, models.Event{
			Type:       models.EventDuplicateLoginWarning,
			DeviceInfo: deviceInfo,
			IPAddress:  ipAddress,
			Timestamp:  s.now().UnixMilli(),
		})
		if delivered {
			// Give the old connection a chance to close itself; force the
			// issue when the grace period runs out.
			select {
			case <-s.events.Done(prev):
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.TakeoverGrace):
				s.events.CloseConn(prev, models.Event{
					Type:   models.EventSessionEnded,
					Reason: "duplicate_login",
					Error:  "signed in from another device",
				})
			}
			slog.Info("took over session", "identity", identity.ID, "old_conn", prev, "new_conn", connID)
		}
	}

	return s.store.Set(ctx, key, connID, 0)
}

// DropPresence deletes the presence record, but only if it still names the
// disconnecting connection. A delayed teardown of an old connection must not
// evict a newer session's record.
func (s *Service) DropPresence(ctx context.Context, identityID, connID string) error {
	key := coord.PresenceKey(identityID)
	current, err := s.store.Get(ctx, key)
	if errors.Is(err, coord.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != connID {
		return nil
	}
	return s.store.Del(ctx, key)
}

// HoldsPresence reports whether connID is the identity's current connection.
func (s *Service) HoldsPresence(ctx context.Context, identityID, connID string) bool {
	current, err := s.store.Get(ctx, coord.PresenceKey(identityID))
	return err == nil && current == connID
}

// Online reports whether any connection currently holds presence for the
// identity.
func (s *Service) Online(ctx context.Context, identityID string) bool {
	_, err := s.store.Get(ctx, coord.PresenceKey(identityID))
	return err == nil
}
