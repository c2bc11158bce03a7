package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"palaver/internal/coord"
	"palaver/internal/models"
)

// HistoryPage is one page of room history in ascending timestamp order.
type HistoryPage struct {
	Messages        []models.Message
	HasMore         bool
	OldestTimestamp int64
}

// Load returns a page of room history. The initial page (before == 0) is
// served from the recent-message cache when possible; everything else goes
// to the document store with a hard timeout. Returned messages are always
// ascending by timestamp. As a side effect the returned messages are marked
// read by the requester, best-effort and off the request path.
func (s *Service) Load(ctx context.Context, roomID, identityID string, before int64, limit int) (HistoryPage, error) {
	if limit <= 0 {
		limit = s.cfg.PageSize
	}

	if before == 0 {
		if cached, err := s.cache.Get(ctx, roomID); err == nil {
			page := pageFromWindow(cached, limit)
			s.markReadAsync(roomID, identityID, page.Messages)
			return page, nil
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.HistoryTimeout)
	defer cancel()

	type result struct {
		msgs []models.Message
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		// limit+1 answers hasMore without a second count query.
		msgs, err := s.docs.ListMessagesBefore(roomID, before, limit+1)
		if err == nil {
			s.docs.EnrichMessages(msgs)
		}
		resCh <- result{msgs: msgs, err: err}
	}()

	var msgs []models.Message
	select {
	case <-queryCtx.Done():
		// The wait is cancelled, not the underlying query; the goroutine
		// finishes into the buffered channel and is collected.
		return HistoryPage{}, ErrLoadTimeout
	case r := <-resCh:
		if r.err != nil {
			return HistoryPage{}, fmt.Errorf("history query: %w", r.err)
		}
		msgs = r.msgs
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	// Store order is newest-first; callers expect chronological.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })

	page := HistoryPage{Messages: msgs, HasMore: hasMore}
	if len(msgs) > 0 {
		page.OldestTimestamp = msgs[0].Timestamp
	}

	s.markReadAsync(roomID, identityID, msgs)
	if before == 0 {
		if err := s.cache.Put(ctx, roomID, msgs); err != nil {
			slog.Warn("failed to refresh recent cache", "room_id", roomID, "error", err)
		}
	}
	return page, nil
}

// LoadWithRetry wraps Load with a distributed retry ceiling shared across
// processes. It fails fast once the counter reaches the ceiling, backs off
// exponentially between attempts, and clears the counter on success.
func (s *Service) LoadWithRetry(ctx context.Context, roomID, identityID string, before int64, limit int) (HistoryPage, error) {
	retryKey := coord.RetryKey(roomID, identityID)

	attempts := s.retryCount(ctx, retryKey)
	if attempts >= s.cfg.MaxRetries {
		return HistoryPage{}, ErrMaxRetries
	}

	page, err := s.Load(ctx, roomID, identityID, before, limit)
	if err == nil {
		if delErr := s.store.Del(ctx, retryKey); delErr != nil {
			slog.Warn("failed to clear retry counter", "room_id", roomID, "error", delErr)
		}
		return page, nil
	}

	attempts++
	if setErr := s.store.Set(ctx, retryKey, strconv.Itoa(attempts), s.cfg.RetryCounterTTL); setErr != nil {
		slog.Warn("failed to bump retry counter", "room_id", roomID, "error", setErr)
	}
	slog.Warn("history load failed, backing off",
		"room_id", roomID, "identity", identityID, "attempt", attempts, "error", err)

	delay := s.cfg.RetryBaseDelay << (attempts - 1)
	if delay > s.cfg.RetryMaxDelay {
		delay = s.cfg.RetryMaxDelay
	}
	if err := s.sleep(ctx, delay); err != nil {
		return HistoryPage{}, err
	}
	return s.LoadWithRetry(ctx, roomID, identityID, before, limit)
}

// FetchPrevious handles a client's "load previous page" request end to end:
// in-flight guard, load with retry, and result events to the requesting
// connection only. A request arriving while another is in flight for the
// same (room, identity) is dropped silently; it means the page is already
// being loaded.
func (s *Service) FetchPrevious(ctx context.Context, identity models.Identity, connID, roomID string, before int64, limit int) {
	guardKey := coord.LoadingKey(roomID, identity.ID)
	if _, err := s.store.Get(ctx, guardKey); err == nil {
		return
	}
	if err := s.store.Set(ctx, guardKey, "1", s.cfg.HistoryTimeout); err != nil {
		slog.Warn("failed to set load guard", "room_id", roomID, "error", err)
	}
	defer func() {
		if err := s.store.Del(ctx, guardKey); err != nil {
			slog.Warn("failed to clear load guard", "room_id", roomID, "error", err)
		}
	}()

	s.events.SendTo(connID, models.Event{Type: models.EventMessageLoadStart, RoomID: roomID})

	page, err := s.LoadWithRetry(ctx, roomID, identity.ID, before, limit)
	if err != nil {
		s.events.SendTo(connID, models.Event{
			Type:      models.EventLoadError,
			RoomID:    roomID,
			ErrorType: loadErrorType(err),
			Error:     err.Error(),
		})
		return
	}

	s.events.SendTo(connID, models.Event{
		Type:            models.EventMessagesLoaded,
		RoomID:          roomID,
		Messages:        page.Messages,
		HasMore:         page.HasMore,
		OldestTimestamp: page.OldestTimestamp,
	})
}

func loadErrorType(err error) string {
	switch {
	case errors.Is(err, ErrLoadTimeout):
		return "timeout"
	case errors.Is(err, ErrMaxRetries):
		return "retryExhausted"
	default:
		return "upstream"
	}
}

func (s *Service) retryCount(ctx context.Context, key string) int {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// pageFromWindow slices the newest limit entries out of an ascending cached
// window.
func pageFromWindow(window []models.Message, limit int) HistoryPage {
	page := HistoryPage{HasMore: len(window) > limit}
	start := 0
	if len(window) > limit {
		start = len(window) - limit
	}
	page.Messages = window[start:]
	if len(page.Messages) > 0 {
		page.OldestTimestamp = page.Messages[0].Timestamp
	}
	return page
}

// markReadAsync records read receipts for a page without blocking or
// failing the response.
func (s *Service) markReadAsync(roomID, identityID string, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	at := s.now().UnixMilli()
	go func() {
		if _, err := s.docs.MarkMessagesRead(ids, identityID, at); err != nil {
			slog.Warn("failed to mark history read", "room_id", roomID, "identity", identityID, "error", err)
		}
	}()
}
