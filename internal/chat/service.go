// Package chat implements the session and delivery coordinator: presence
// arbitration, room membership, history loading, message ingest and fan-out.
// All cross-process state lives in the coordination store; nothing in this
// package is authoritative beyond the lifetime of one connection.
package chat

import (
	"context"
	"errors"
	"time"

	"palaver/internal/coord"
	"palaver/internal/models"
	"palaver/internal/notify"
	"palaver/internal/recent"
)

var (
	ErrNotMember      = errors.New("not a member of this room")
	ErrSessionExpired = errors.New("session is no longer valid")
	ErrInvalidFile    = errors.New("file not found or not owned by sender")
	ErrNotSender      = errors.New("only the sender can delete a message")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrLoadTimeout    = errors.New("history load timed out")
	ErrMaxRetries     = errors.New("max load retries exceeded")
)

// DocumentStore is the persistent message/room store collaborator: the
// single source of truth for message content and room membership.
type DocumentStore interface {
	GetRoom(id string) (models.Room, error)
	AddRoomMember(roomID, userID string) (models.Room, error)
	RemoveRoomMember(roomID, userID string) (models.Room, error)
	InsertMessage(msg models.Message) error
	GetMessage(id string) (models.Message, error)
	UpdateMessage(msg models.Message) error
	SoftDeleteMessage(id string) error
	MarkMessagesRead(ids []string, readerID string, at int64) ([]string, error)
	ListMessagesBefore(roomID string, before int64, limit int) ([]models.Message, error)
	GetUser(id string) (models.User, error)
	UserSummary(id string) (models.UserSummary, error)
	OwnedFileSummary(id, ownerID string) (models.FileSummary, error)
	EnrichMessage(msg *models.Message)
	EnrichMessages(msgs []models.Message)
}

// SessionValidator is the auth collaborator.
type SessionValidator interface {
	Validate(identityID, token string) (valid bool, reason string)
	Touch(identityID string)
	LastActive(identityID string) (int64, bool)
}

// Broadcaster delivers events to connections attached to this process.
type Broadcaster interface {
	Broadcast(roomID string, ev models.Event)
	SendTo(connID string, ev models.Event) bool
	CloseConn(connID string, ev models.Event)
	Done(connID string) <-chan struct{}
	MoveToRoom(connID, roomID string)
}

// ReplyRunner drives one assistant reply to completion.
type ReplyRunner interface {
	Run(ctx context.Context, roomID, assistantKind, query string)
}

type Config struct {
	TakeoverGrace   time.Duration
	HistoryTimeout  time.Duration
	PageSize        int
	MaxRetries      int
	AssistantKinds  []string
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryCounterTTL time.Duration
}

func (c *Config) fillDefaults() {
	if c.TakeoverGrace <= 0 {
		c.TakeoverGrace = 10 * time.Second
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = 10 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.RetryCounterTTL <= 0 {
		c.RetryCounterTTL = time.Minute
	}
}

type Service struct {
	cfg      Config
	store    coord.Store
	docs     DocumentStore
	sessions SessionValidator
	events   Broadcaster
	replies  ReplyRunner
	cache    *recent.Cache
	push     *notify.Notifier

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(cfg Config, store coord.Store, docs DocumentStore, sessions SessionValidator, events Broadcaster, replies ReplyRunner, cache *recent.Cache, push *notify.Notifier) *Service {
	cfg.fillDefaults()
	return &Service{
		cfg:      cfg,
		store:    store,
		docs:     docs,
		sessions: sessions,
		events:   events,
		replies:  replies,
		cache:    cache,
		push:     push,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// memberSummaries resolves a member ID list into display summaries. Lookups
// that fail are skipped rather than failing the whole list.
func (s *Service) memberSummaries(members []string) []models.UserSummary {
	out := make([]models.UserSummary, 0, len(members))
	for _, id := range members {
		if summary, err := s.docs.UserSummary(id); err == nil {
			out = append(out, summary)
		}
	}
	return out
}
