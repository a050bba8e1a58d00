package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memItem struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// Memory is an in-process KV with TTL support. The clock is injectable so
// tests can advance time.
type Memory struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time

	// FailWith, if set, is returned (wrapped in ErrUnavailable) by every call.
	FailWith error
}

// NewMemory creates an empty Memory KV. now may be nil to use time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]memItem), now: now}
}

func (m *Memory) live(it memItem) bool {
	return it.expiresAt.IsZero() || m.now().Before(it.expiresAt)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) check(ctx context.Context) error {
	if m.FailWith != nil {
		return unavailable("memory", m.FailWith)
	}
	if err := ctx.Err(); err != nil {
		return unavailable("memory", err)
	}
	return nil
}

// Get returns the value for key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || !m.live(it) {
		delete(m.items, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Put stores value under key, replacing any previous value.
func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = memItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	m.mu.Unlock()
	return nil
}

// PutIfAbsent stores value only if key is absent or expired.
func (m *Memory) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok && m.live(it) {
		return false, nil
	}
	m.items[key] = memItem{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// List returns live entries under prefix, sorted by key.
func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for k, it := range m.items {
		if !strings.HasPrefix(k, prefix) || !m.live(it) {
			continue
		}
		out = append(out, Entry{Key: k, Value: append([]byte(nil), it.value...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
