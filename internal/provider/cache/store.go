package cache

import (
	"context"
	"sync"
	"time"

	"cryptodesk/internal/provider"
)

// Entry is what a Store keeps per key.
type Entry struct {
	Table     *provider.Table `msgpack:"table"`
	FetchedAt time.Time       `msgpack:"fetched_at"`
}

// Store persists entries. Implementations may expire entries on their own;
// Cache checks FetchedAt against its TTL regardless.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type memEntry struct {
	expiresAt time.Time
	entry     Entry
}

// MemoryStore is an in-process Store. Expired entries are removed on lookup.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return Entry{}, false, nil
	}
	return it.entry, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, e Entry, ttl time.Duration) error {
	m.mu.Lock()
	m.items[key] = memEntry{expiresAt: m.now().Add(ttl), entry: e}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]memEntry)
	m.mu.Unlock()
	return nil
}
