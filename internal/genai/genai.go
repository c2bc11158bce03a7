// Package genai defines the text-generation collaborator contract. The core
// never inspects how generation works; it only reacts to the callbacks.
package genai

import "context"

type UsageStats struct {
	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	DurationMillis   int64 `json:"durationMillis"`
}

// Callbacks is the streaming interface a Generator drives. OnChunk may be
// called any number of times; exactly one of OnComplete or OnError follows,
// unless Generate itself returns an error before OnStart.
type Callbacks struct {
	OnStart    func()
	OnChunk    func(fragment string)
	OnComplete func(finalText string, stats UsageStats)
	OnError    func(reason string)
}

type Generator interface {
	Generate(ctx context.Context, query, assistantKind string, cb Callbacks) error
}
