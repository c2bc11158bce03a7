// Package reply coordinates an in-progress assistant response: it owns the
// Started → Streaming → Completed | Errored state machine and the
// store-backed accumulation buffer that lets a crashed process leave nothing
// behind but a key that expires on its own.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"palaver/internal/content"
	"palaver/internal/coord"
	"palaver/internal/genai"
	"palaver/internal/models"
	"palaver/internal/recent"
)

// Buffer is the persisted accumulator for one in-progress reply.
type Buffer struct {
	MessageID     string `msgpack:"messageId"`
	RoomID        string `msgpack:"roomId"`
	AssistantKind string `msgpack:"assistantKind"`
	Query         string `msgpack:"query"`
	Content       string `msgpack:"content"`
	CreatedAt     int64  `msgpack:"createdAt"`
	UpdatedAt     int64  `msgpack:"updatedAt"`
}

type MessageStore interface {
	InsertMessage(msg models.Message) error
	EnrichMessage(msg *models.Message)
}

type Broadcaster interface {
	Broadcast(roomID string, ev models.Event)
}

type Coordinator struct {
	store     coord.Store
	msgs      MessageStore
	cache     *recent.Cache
	events    Broadcaster
	gen       genai.Generator
	bufferTTL time.Duration
	now       func() time.Time
}

func NewCoordinator(store coord.Store, msgs MessageStore, cache *recent.Cache, events Broadcaster, gen genai.Generator, bufferTTL time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		msgs:      msgs,
		cache:     cache,
		events:    events,
		gen:       gen,
		bufferTTL: bufferTTL,
		now:       time.Now,
	}
}

// Run drives one assistant reply to a terminal state. It blocks until the
// generation completes or errors; callers invoke it once per mentioned
// assistant, sequentially.
func (c *Coordinator) Run(ctx context.Context, roomID, assistantKind, query string) {
	start := c.now()
	messageID := fmt.Sprintf("%s-%d", assistantKind, start.UnixNano())
	key := coord.StreamKey(messageID)

	buf := Buffer{
		MessageID:     messageID,
		RoomID:        roomID,
		AssistantKind: assistantKind,
		Query:         query,
		CreatedAt:     start.UnixMilli(),
		UpdatedAt:     start.UnixMilli(),
	}
	if err := c.writeBuffer(ctx, key, &buf); err != nil {
		slog.Error("failed to create stream buffer", "message_id", messageID, "error", err)
	}

	c.events.Broadcast(roomID, models.Event{
		Type:          models.EventReplyStarted,
		RoomID:        roomID,
		MessageID:     messageID,
		AssistantKind: assistantKind,
		Timestamp:     start.UnixMilli(),
	})

	err := c.gen.Generate(ctx, query, assistantKind, genai.Callbacks{
		OnChunk: func(fragment string) {
			buf.Content += fragment
			buf.UpdatedAt = c.now().UnixMilli()
			if err := c.writeBuffer(ctx, key, &buf); err != nil {
				slog.Warn("failed to refresh stream buffer", "message_id", messageID, "error", err)
			}
			// Fragment and full accumulated content travel together so a
			// client that lost a frame can reconcile losslessly.
			c.events.Broadcast(roomID, models.Event{
				Type:        models.EventReplyChunk,
				RoomID:      roomID,
				MessageID:   messageID,
				Fragment:    fragment,
				FullContent: buf.Content,
			})
		},
		OnComplete: func(finalText string, stats genai.UsageStats) {
			c.complete(ctx, key, &buf, finalText, stats)
		},
		OnError: func(reason string) {
			c.fail(ctx, key, &buf, reason)
		},
	})
	if err != nil {
		c.fail(ctx, key, &buf, err.Error())
	}
}

func (c *Coordinator) writeBuffer(ctx context.Context, key string, buf *Buffer) error {
	raw, err := coord.Encode(buf)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, raw, c.bufferTTL)
}

func (c *Coordinator) complete(ctx context.Context, key string, buf *Buffer, finalText string, stats genai.UsageStats) {
	if err := c.store.Del(ctx, key); err != nil {
		slog.Warn("failed to delete stream buffer", "message_id", buf.MessageID, "error", err)
	}

	metadata := map[string]string{
		"query":            buf.Query,
		"promptTokens":     strconv.Itoa(stats.PromptTokens),
		"completionTokens": strconv.Itoa(stats.CompletionTokens),
		"generationMillis": strconv.FormatInt(stats.DurationMillis, 10),
	}
	if rendered, err := content.RenderMarkdown(finalText); err == nil {
		metadata["renderedContent"] = rendered
	}

	msg := models.Message{
		ID:            buf.MessageID,
		RoomID:        buf.RoomID,
		Type:          models.MessageTypeAssistant,
		AssistantKind: buf.AssistantKind,
		Content:       finalText,
		Timestamp:     c.now().UnixMilli(),
		Metadata:      metadata,
	}
	if err := c.msgs.InsertMessage(msg); err != nil {
		slog.Error("failed to persist assistant reply", "message_id", buf.MessageID, "error", err)
		c.events.Broadcast(buf.RoomID, models.Event{
			Type:          models.EventReplyError,
			RoomID:        buf.RoomID,
			MessageID:     buf.MessageID,
			AssistantKind: buf.AssistantKind,
			Error:         "failed to save reply",
		})
		return
	}
	c.msgs.EnrichMessage(&msg)

	if err := c.cache.Append(ctx, buf.RoomID, msg); err != nil {
		slog.Warn("failed to cache assistant reply", "message_id", buf.MessageID, "error", err)
	}

	c.events.Broadcast(buf.RoomID, models.Event{
		Type:       models.EventReplyComplete,
		RoomID:     buf.RoomID,
		MessageID:  buf.MessageID,
		Content:    finalText,
		IsComplete: true,
	})
}

// fail tears the stream down without persisting any partial content.
func (c *Coordinator) fail(ctx context.Context, key string, buf *Buffer, reason string) {
	if err := c.store.Del(ctx, key); err != nil {
		slog.Warn("failed to delete stream buffer", "message_id", buf.MessageID, "error", err)
	}
	c.events.Broadcast(buf.RoomID, models.Event{
		Type:          models.EventReplyError,
		RoomID:        buf.RoomID,
		MessageID:     buf.MessageID,
		AssistantKind: buf.AssistantKind,
		Error:         reason,
	})
}
