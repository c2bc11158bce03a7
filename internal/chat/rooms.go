package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"palaver/internal/coord"
	"palaver/internal/models"
)

// Join moves an identity into a room and answers the joining connection with
// the member list and the initial history page. Joining the room the
// identity already occupies is a no-op that reports success without a second
// membership broadcast or system message.
func (s *Service) Join(ctx context.Context, identity models.Identity, connID, roomID, password string) error {
	current, err := s.store.Get(ctx, coord.OccupancyKey(identity.ID))
	if err != nil && !errors.Is(err, coord.ErrNotFound) {
		s.joinError(connID, "failed to join room")
		return err
	}
	occupied := err == nil

	if occupied && current == roomID {
		room, err := s.docs.GetRoom(roomID)
		if err != nil {
			s.joinError(connID, "room not found")
			return nil
		}
		s.events.MoveToRoom(connID, roomID)
		return s.respondJoined(ctx, identity, connID, room)
	}

	// Vacate the previous room before touching the new one.
	if occupied && current != "" && current != roomID {
		if err := s.vacate(ctx, identity, current); err != nil {
			slog.Warn("failed to vacate previous room", "identity", identity.ID, "room_id", current, "error", err)
		}
	}

	room, err := s.docs.GetRoom(roomID)
	if errors.Is(err, models.ErrNotFound) {
		s.joinError(connID, "room not found")
		return nil
	}
	if err != nil {
		s.joinError(connID, "room lookup failed")
		return nil
	}
	if room.Protected() && bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)) != nil {
		s.joinError(connID, "wrong room password")
		return nil
	}

	room, err = s.docs.AddRoomMember(roomID, identity.ID)
	if err != nil {
		s.joinError(connID, "failed to join room")
		return nil
	}
	// Coordination-store failures still answer the client; a join that dies
	// here would otherwise leave the frame unacknowledged.
	if err := s.store.AddToSet(ctx, coord.OccupantsKey(roomID), identity.ID); err != nil {
		s.joinError(connID, "failed to join room")
		return err
	}
	if err := s.store.Set(ctx, coord.OccupancyKey(identity.ID), roomID, 0); err != nil {
		s.joinError(connID, "failed to join room")
		return err
	}
	s.invalidateRoomLists(ctx)

	s.postSystemMessage(ctx, roomID, fmt.Sprintf("%s joined the room", identity.DisplayName))
	s.events.Broadcast(roomID, models.Event{
		Type:    models.EventMembersUpdate,
		RoomID:  roomID,
		Members: s.memberSummaries(room.Members),
	})

	// The joiner starts receiving room broadcasts only now, so the join
	// announcement reaches it through the history page instead of twice.
	s.events.MoveToRoom(connID, roomID)

	return s.respondJoined(ctx, identity, connID, room)
}

// Leave removes the identity from a room. Stale calls, where the occupancy
// record no longer names that room, are ignored.
func (s *Service) Leave(ctx context.Context, identity models.Identity, connID, roomID string) error {
	current, err := s.store.Get(ctx, coord.OccupancyKey(identity.ID))
	if err != nil || current != roomID {
		return nil
	}

	if err := s.vacate(ctx, identity, roomID); err != nil {
		return err
	}
	if err := s.store.Del(ctx, coord.OccupancyKey(identity.ID)); err != nil {
		return err
	}
	s.events.MoveToRoom(connID, "")
	s.invalidateRoomLists(ctx)
	return nil
}

// Disconnect tears down room and presence state for a closing connection.
// Both steps are conditional on the connection still being current, so a
// stale teardown cannot disturb a newer session.
func (s *Service) Disconnect(ctx context.Context, identity models.Identity, connID string) {
	if !s.HoldsPresence(ctx, identity.ID, connID) {
		return
	}
	if roomID, err := s.store.Get(ctx, coord.OccupancyKey(identity.ID)); err == nil {
		if err := s.Leave(ctx, identity, connID, roomID); err != nil {
			slog.Warn("failed to leave room on disconnect", "identity", identity.ID, "error", err)
		}
	}
	if err := s.DropPresence(ctx, identity.ID, connID); err != nil {
		slog.Warn("failed to drop presence", "identity", identity.ID, "error", err)
	}
}

// vacate removes the identity from a room's records and tells the room.
func (s *Service) vacate(ctx context.Context, identity models.Identity, roomID string) error {
	room, err := s.docs.RemoveRoomMember(roomID, identity.ID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveFromSet(ctx, coord.OccupantsKey(roomID), identity.ID); err != nil {
		return err
	}
	s.postSystemMessage(ctx, roomID, fmt.Sprintf("%s left the room", identity.DisplayName))
	s.events.Broadcast(roomID, models.Event{
		Type:    models.EventMembersUpdate,
		RoomID:  roomID,
		Members: s.memberSummaries(room.Members),
	})
	return nil
}

func (s *Service) respondJoined(ctx context.Context, identity models.Identity, connID string, room models.Room) error {
	page, err := s.Load(ctx, room.ID, identity.ID, 0, s.cfg.PageSize)
	if err != nil {
		slog.Warn("failed to load history for join", "room_id", room.ID, "error", err)
		page = HistoryPage{}
	}
	s.events.SendTo(connID, models.Event{
		Type:            models.EventJoinSuccess,
		RoomID:          room.ID,
		Members:         s.memberSummaries(room.Members),
		Messages:        page.Messages,
		HasMore:         page.HasMore,
		OldestTimestamp: page.OldestTimestamp,
	})
	return nil
}

func (s *Service) joinError(connID, message string) {
	s.events.SendTo(connID, models.Event{
		Type:  models.EventJoinError,
		Error: message,
	})
}

// postSystemMessage persists and broadcasts a room announcement.
func (s *Service) postSystemMessage(ctx context.Context, roomID, text string) {
	msg := models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      models.MessageTypeSystem,
		Content:   text,
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.docs.InsertMessage(msg); err != nil {
		slog.Error("failed to persist system message", "room_id", roomID, "error", err)
		return
	}
	if err := s.cache.Append(ctx, roomID, msg); err != nil {
		slog.Warn("failed to cache system message", "room_id", roomID, "error", err)
	}
	s.events.Broadcast(roomID, models.Event{
		Type:    models.EventMessage,
		RoomID:  roomID,
		Message: &msg,
	})
}

// invalidateRoomLists bulk-deletes cached room listings; any membership or
// room change can affect filtered or paginated listings.
func (s *Service) invalidateRoomLists(ctx context.Context) {
	keys, err := s.store.Keys(ctx, coord.RoomListCachePattern)
	if err != nil {
		slog.Warn("failed to enumerate room list caches", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.store.Del(ctx, keys...); err != nil {
		slog.Warn("failed to invalidate room list caches", "error", err)
	}
}
