package genai

import (
	"context"
	"strings"
	"time"
)

// Scripted is a canned Generator used in tests and as the default backend
// when no real generation service is wired in. It echoes the query back in
// word-sized chunks.
type Scripted struct {
	// Delay between chunks, zero for tests.
	ChunkDelay time.Duration
	// Reply overrides the echoed text when set.
	Reply string
	// Fail makes Generate report an error through OnError after OnStart.
	Fail string
}

func (s *Scripted) Generate(ctx context.Context, query, assistantKind string, cb Callbacks) error {
	start := time.Now()
	if cb.OnStart != nil {
		cb.OnStart()
	}

	if s.Fail != "" {
		if cb.OnError != nil {
			cb.OnError(s.Fail)
		}
		return nil
	}

	text := s.Reply
	if text == "" {
		text = "You said: " + query
	}

	words := strings.Fields(text)
	for i, w := range words {
		select {
		case <-ctx.Done():
			if cb.OnError != nil {
				cb.OnError(ctx.Err().Error())
			}
			return nil
		default:
		}
		fragment := w
		if i < len(words)-1 {
			fragment += " "
		}
		if cb.OnChunk != nil {
			cb.OnChunk(fragment)
		}
		if s.ChunkDelay > 0 {
			time.Sleep(s.ChunkDelay)
		}
	}

	if cb.OnComplete != nil {
		cb.OnComplete(text, UsageStats{
			PromptTokens:     len(strings.Fields(query)),
			CompletionTokens: len(words),
			DurationMillis:   time.Since(start).Milliseconds(),
		})
	}
	return nil
}
