package chat

import (
	"context"
	"log/slog"

	"palaver/internal/models"
)

// AddReaction toggles a reactor into a message's reaction set for a label.
// Adding the same reaction twice is a no-op that still reports the current
// state.
func (s *Service) AddReaction(ctx context.Context, identity models.Identity, messageID, label string) error {
	return s.mutateReactions(ctx, messageID, func(msg *models.Message) bool {
		return msg.AddReaction(label, identity.ID)
	})
}

// RemoveReaction removes a reactor from a label. Removing a reaction that
// was never added is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, identity models.Identity, messageID, label string) error {
	return s.mutateReactions(ctx, messageID, func(msg *models.Message) bool {
		return msg.RemoveReaction(label, identity.ID)
	})
}

func (s *Service) mutateReactions(ctx context.Context, messageID string, mutate func(*models.Message) bool) error {
	msg, err := s.docs.GetMessage(messageID)
	if err != nil {
		return err
	}
	if mutate(&msg) {
		if err := s.docs.UpdateMessage(msg); err != nil {
			return err
		}
	}

	// Full rewrite of the cached copy's reaction map, if the window has it.
	reactions := msg.Reactions
	if err := s.cache.Patch(ctx, msg.RoomID, messageID, func(cached *models.Message) {
		cached.Reactions = reactions
	}); err != nil {
		slog.Warn("failed to patch cached reactions", "message_id", messageID, "error", err)
	}

	s.events.Broadcast(msg.RoomID, models.Event{
		Type:      models.EventReactionUpdate,
		RoomID:    msg.RoomID,
		MessageID: messageID,
		Reactions: reactions,
	})
	return nil
}

// DeleteMessage soft-deletes a message on behalf of its sender. The record
// survives in the store; listings and the cached window stop returning it.
func (s *Service) DeleteMessage(ctx context.Context, identity models.Identity, messageID string) error {
	msg, err := s.docs.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != identity.ID {
		return ErrNotSender
	}
	if err := s.docs.SoftDeleteMessage(messageID); err != nil {
		return err
	}
	if err := s.cache.Remove(ctx, msg.RoomID, messageID); err != nil {
		slog.Warn("failed to drop cached message", "message_id", messageID, "error", err)
	}
	s.events.Broadcast(msg.RoomID, models.Event{
		Type:      models.EventMessageDeleted,
		RoomID:    msg.RoomID,
		MessageID: messageID,
	})
	return nil
}

// MarkRead bulk-appends read receipts for the identity to the named
// messages, skipping any it already marked, then broadcasts the affected IDs
// rather than the whole messages.
func (s *Service) MarkRead(ctx context.Context, identity models.Identity, roomID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	updated, err := s.docs.MarkMessagesRead(messageIDs, identity.ID, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return nil
	}

	at := s.now().UnixMilli()
	for _, id := range updated {
		if err := s.cache.Patch(ctx, roomID, id, func(cached *models.Message) {
			cached.MarkReadBy(identity.ID, at)
		}); err != nil {
			slog.Warn("failed to patch cached read receipts", "message_id", id, "error", err)
		}
	}

	s.events.Broadcast(roomID, models.Event{
		Type:       models.EventMessagesRead,
		RoomID:     roomID,
		Identity:   identity.ID,
		MessageIDs: updated,
	})
	return nil
}
