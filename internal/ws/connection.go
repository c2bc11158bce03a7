package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// coordinator is the slice of the chat service a connection drives.
type coordinator interface {
	Join(ctx context.Context, identity models.Identity, connID, roomID, password string) error
	Leave(ctx context.Context, identity models.Identity, connID, roomID string) error
	Disconnect(ctx context.Context, identity models.Identity, connID string)
	Send(ctx context.Context, identity models.Identity, roomID string, msgType models.MessageType, content, fileID string) (*models.Message, error)
	FetchPrevious(ctx context.Context, identity models.Identity, connID, roomID string, before int64, limit int)
	AddReaction(ctx context.Context, identity models.Identity, messageID, label string) error
	RemoveReaction(ctx context.Context, identity models.Identity, messageID, label string) error
	MarkRead(ctx context.Context, identity models.Identity, roomID string, messageIDs []string) error
	DeleteMessage(ctx context.Context, identity models.Identity, messageID string) error
	HoldsPresence(ctx context.Context, identityID, connID string) bool
}

// presenceCheckInterval is how often a connection re-reads the presence
// record it was registered under.
const presenceCheckInterval = 5 * time.Second

// Connection is one authenticated client socket: a read pump feeding frames
// into the main loop, and the main loop interleaving them with hub events.
type Connection struct {
	ID       string
	identity models.Identity

	ws            wsConnection
	hub           *Hub
	svc           coordinator
	fromClient    chan models.ClientFrame
	fromServer    <-chan models.Event
	hubDone       <-chan struct{}
	errorCh       chan error
	presenceEvery time.Duration
}

func NewConnection(hub *Hub, svc coordinator, ws wsConnection, connID string, identity models.Identity) *Connection {
	fromServer, hubDone := hub.Register(connID)
	return &Connection{
		ID:            connID,
		identity:      identity,
		ws:            ws,
		hub:           hub,
		svc:           svc,
		fromClient:    make(chan models.ClientFrame),
		fromServer:    fromServer,
		hubDone:       hubDone,
		errorCh:       make(chan error, 2),
		presenceEvery: presenceCheckInterval,
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		c.svc.Disconnect(context.WithoutCancel(ctx), c.identity, c.ID)
		c.hub.Unregister(c.ID)
		close(c.fromClient)
		close(c.errorCh)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpFrames(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpFrames(ctx context.Context) error {
	for {
		var frame models.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	presence := time.NewTicker(c.presenceEvery)
	defer presence.Stop()
	for {
		select {
		case frame := <-c.fromClient:
			c.processFrame(ctx, frame)
		case <-presence.C:
			// A takeover on another process rewrites the presence record but
			// cannot reach this hub. The record is the authority: when it no
			// longer names this connection, end the session from this side.
			if !c.svc.HoldsPresence(ctx, c.identity.ID, c.ID) {
				_ = c.ws.WriteJSON(models.Event{
					Type:   models.EventSessionEnded,
					Reason: "duplicate_login",
					Error:  "signed in from another device",
				})
				return nil
			}
		case ev := <-c.fromServer:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-c.hubDone:
			// Forced out, usually by a session takeover. Drain any final
			// event queued just before the close.
			for {
				select {
				case ev := <-c.fromServer:
					if err := c.ws.WriteJSON(ev); err != nil {
						return nil
					}
				default:
					return nil
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processFrame(ctx context.Context, frame models.ClientFrame) {
	switch frame.Type {
	case models.ClientFrameJoin:
		if err := c.svc.Join(ctx, c.identity, c.ID, frame.RoomID, frame.Password); err != nil {
			slog.Error("join failed", "conn_id", c.ID, "room_id", frame.RoomID, "error", err)
		}
	case models.ClientFrameLeave:
		if err := c.svc.Leave(ctx, c.identity, c.ID, frame.RoomID); err != nil {
			slog.Error("leave failed", "conn_id", c.ID, "room_id", frame.RoomID, "error", err)
		}
	case models.ClientFrameSend:
		if _, err := c.svc.Send(ctx, c.identity, frame.RoomID, frame.MsgType, frame.Content, frame.FileID); err != nil {
			c.hub.SendTo(c.ID, models.Event{
				Type:   models.EventSendError,
				RoomID: frame.RoomID,
				Error:  err.Error(),
			})
		}
	case models.ClientFrameFetchPrevious:
		// Off the main loop: loading may back off and retry for seconds.
		// Duplicate requests are dropped by the in-flight guard.
		go c.svc.FetchPrevious(ctx, c.identity, c.ID, frame.RoomID, frame.Before, frame.Limit)
	case models.ClientFrameAddReaction:
		if err := c.svc.AddReaction(ctx, c.identity, frame.MessageID, frame.Reaction); err != nil {
			slog.Warn("add reaction failed", "conn_id", c.ID, "message_id", frame.MessageID, "error", err)
		}
	case models.ClientFrameRemoveReaction:
		if err := c.svc.RemoveReaction(ctx, c.identity, frame.MessageID, frame.Reaction); err != nil {
			slog.Warn("remove reaction failed", "conn_id", c.ID, "message_id", frame.MessageID, "error", err)
		}
	case models.ClientFrameMarkRead:
		if err := c.svc.MarkRead(ctx, c.identity, frame.RoomID, frame.MessageIDs); err != nil {
			slog.Warn("mark read failed", "conn_id", c.ID, "room_id", frame.RoomID, "error", err)
		}
	case models.ClientFrameDeleteMessage:
		if err := c.svc.DeleteMessage(ctx, c.identity, frame.MessageID); err != nil {
			slog.Warn("delete message failed", "conn_id", c.ID, "message_id", frame.MessageID, "error", err)
		}
	}
}
