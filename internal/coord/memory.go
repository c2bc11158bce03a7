package coord

import (
	"context"
	"path"
	"sync"
	"time"
)

// Memory is the in-process Store used for single-process deploys and tests.
// A janitor goroutine evicts expired entries; reads also check expiry so
// behavior does not depend on janitor timing.
type Memory struct {
	mu     sync.RWMutex
	values map[string]memEntry
	sets   map[string]map[string]struct{}
	now    func() time.Time
}

type memEntry struct {
	value string
	// zero means no expiry
	expiresAt time.Time
}

func NewMemory(ctx context.Context) *Memory {
	m := &Memory{
		values: make(map[string]memEntry),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	go m.janitor(ctx)
	return m
}

func (m *Memory) janitor(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.mu.Lock()
			now := m.now()
			for k, e := range m.values {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(m.values, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) live(e memEntry) bool {
	return e.expiresAt.IsZero() || m.now().Before(e.expiresAt)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.values[key]
	if !ok || !m.live(e) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.sets, k)
	}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.values[key]
	if !ok || !m.live(e) {
		return ErrNotFound
	}
	e.expiresAt = m.now().Add(ttl)
	m.values[key] = e
	return nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k, e := range m.values {
		if !m.live(e) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	for k := range m.sets {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) AddToSet(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *Memory) RemoveFromSet(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sets[key]; ok {
		delete(s, member)
		if len(s) == 0 {
			delete(m.sets, key)
		}
	}
	return nil
}

func (m *Memory) Members(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for member := range s {
		out = append(out, member)
	}
	return out, nil
}
