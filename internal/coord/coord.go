// Package coord provides the shared coordination store: the only mutable
// state shared across server processes. Every key written here carries a TTL
// or an explicit deletion path, so crashed connections cannot leak state.
package coord

import (
	"context"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrNotFound = errors.New("coord: key not found")

// Store is the narrow contract both backends implement. Semantics are
// identical whether the backend is the in-process map or a redis deployment
// (single node or cluster).
type Store interface {
	// Get returns the value at key, or ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Set writes key=value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys returns all keys matching a glob pattern (* ? [] wildcards).
	Keys(ctx context.Context, pattern string) ([]string, error)
	AddToSet(ctx context.Context, key, member string) error
	RemoveFromSet(ctx context.Context, key, member string) error
	Members(ctx context.Context, key string) ([]string, error)
}

// Encode packs a structured value for storage under a single key.
func Encode(v any) (string, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Decode(s string, v any) error {
	return msgpack.Unmarshal([]byte(s), v)
}
