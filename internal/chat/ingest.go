package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"palaver/internal/content"
	"palaver/internal/coord"
	"palaver/internal/models"
)

// pushQuietWindow is how recently a member must have been active for push
// notifications to be skipped.
const pushQuietWindow = time.Minute

// Send validates, persists, caches and broadcasts one message, then triggers
// assistant replies for any mentions in the raw content. Preconditions are
// checked in a fixed order and each failure carries its own error; a text
// message whose content is empty once mentions are stripped is a silent
// no-op for the persist/broadcast path while the mentions still fire.
func (s *Service) Send(ctx context.Context, identity models.Identity, roomID string, msgType models.MessageType, rawContent, fileID string) (*models.Message, error) {
	room, err := s.docs.GetRoom(roomID)
	if err != nil {
		return nil, ErrNotMember
	}
	if !slices.Contains(room.Members, identity.ID) {
		return nil, ErrNotMember
	}

	// Tokens expire mid-session; validate per message, not just at connect.
	if valid, reason := s.sessions.Validate(identity.ID, identity.Token); !valid {
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, reason)
	}
	s.sessions.Touch(identity.ID)

	msg := models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  identity.ID,
		Type:      msgType,
		Timestamp: s.now().UnixMilli(),
	}

	var mentions []string
	switch msgType {
	case models.MessageTypeFile:
		file, err := s.docs.OwnedFileSummary(fileID, identity.ID)
		if err != nil {
			return nil, ErrInvalidFile
		}
		msg.FileID = file.ID
	default:
		if strings.TrimSpace(rawContent) == "" {
			return nil, ErrEmptyContent
		}
		mentions = content.Mentions(rawContent, s.cfg.AssistantKinds)
		text := content.Sanitize(rawContent)
		for _, kind := range mentions {
			text = content.StripMention(text, kind)
		}
		if strings.TrimSpace(text) == "" {
			// Mention-only message: nothing to post, but the assistants
			// were still addressed.
			go s.runReplies(context.WithoutCancel(ctx), roomID, mentions, rawContent)
			return nil, nil
		}
		msg.Type = models.MessageTypeText
		msg.Content = text
	}

	if err := s.docs.InsertMessage(msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	s.docs.EnrichMessage(&msg)

	if err := s.cache.Append(ctx, roomID, msg); err != nil {
		slog.Warn("failed to cache message", "message_id", msg.ID, "error", err)
	}

	// Persistence precedes broadcast: a delivered event never references a
	// message absent from the store.
	s.events.Broadcast(roomID, models.Event{
		Type:    models.EventMessage,
		RoomID:  roomID,
		Message: &msg,
	})

	s.pushOffline(ctx, room, identity, &msg)
	// Replies outlive the sending connection: a room-scoped stream should
	// not die with the sender's socket.
	go s.runReplies(context.WithoutCancel(ctx), roomID, mentions, rawContent)

	return &msg, nil
}

// runReplies invokes the reply coordinator once per distinct mentioned
// assistant, sequentially, with that assistant's mention stripped from the
// query.
func (s *Service) runReplies(ctx context.Context, roomID string, mentions []string, rawContent string) {
	for _, kind := range mentions {
		query := content.StripMention(rawContent, kind)
		s.replies.Run(ctx, roomID, kind, query)
	}
}

// pushOffline sends best-effort web push notifications to room members with
// no live connection.
func (s *Service) pushOffline(ctx context.Context, room models.Room, sender models.Identity, msg *models.Message) {
	if !s.push.Enabled() {
		return
	}
	preview := msg.Content
	if len(preview) > 120 {
		preview = preview[:120]
	}
	for _, memberID := range s.offlineMembers(ctx, room, sender.ID) {
		user, err := s.docs.GetUser(memberID)
		if err != nil {
			continue
		}
		go func() {
			if err := s.push.Push(user, room.ID, sender.DisplayName, preview); err != nil {
				slog.Warn("push failed", "user_id", user.ID, "error", err)
			}
		}()
	}
}

// offlineMembers returns the room members eligible for push: not the sender,
// not in the room's occupant set, no presence record anywhere, and not
// active within the quiet window.
func (s *Service) offlineMembers(ctx context.Context, room models.Room, senderID string) []string {
	occupants, err := s.store.Members(ctx, coord.OccupantsKey(room.ID))
	if err != nil {
		slog.Warn("failed to read room occupants", "room_id", room.ID, "error", err)
	}
	cutoff := s.now().Add(-pushQuietWindow).UnixMilli()

	var out []string
	for _, memberID := range room.Members {
		if memberID == senderID || slices.Contains(occupants, memberID) {
			continue
		}
		if s.Online(ctx, memberID) {
			continue
		}
		if at, ok := s.sessions.LastActive(memberID); ok && at >= cutoff {
			continue
		}
		out = append(out, memberID)
	}
	return out
}
