package cache

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

// Manager maps search keys to cached values.
type Manager[V any] struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	entries map[stock.SearchKey]*Entry[V]
}

// NewManager creates a new cache manager. A nil clock uses the real clock.
func NewManager[V any](clock clockwork.Clock) *Manager[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager[V]{
		clock:   clock,
		entries: make(map[stock.SearchKey]*Entry[V]),
	}
}

// Get retrieves a value by key and marks the entry as accessed.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager[V]) Get(key stock.SearchKey) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		CacheMisses.Inc()
		var zero V
		return zero, ErrCacheMiss
	}

	entry.LastAccessed = m.clock.Now()
	CacheHits.Inc()
	return entry.Value, nil
}

// Peek returns a copy of the entry without touching its access time.
func (m *Manager[V]) Peek(key stock.SearchKey) (Entry[V], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	return *entry, true
}

// Put stores a value. Replacing an existing value resets CreatedAt.
func (m *Manager[V]) Put(key stock.SearchKey, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if _, exists := m.entries[key]; !exists {
		CacheEntries.Inc()
	}
	m.entries[key] = &Entry[V]{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// Len returns the number of entries.
func (m *Manager[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns all keys in sorted order.
func (m *Manager[V]) Keys() []stock.SearchKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]stock.SearchKey, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Sweep removes entries idle for longer than retention. Entries for which
// keep returns true survive regardless of age. keep may be nil.
// Returns the evicted keys in sorted order.
func (m *Manager[V]) Sweep(retention time.Duration, keep func(stock.SearchKey, V) bool) []stock.SearchKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var evicted []stock.SearchKey
	for key, entry := range m.entries {
		if !entry.Expired(now, retention) {
			continue
		}
		if keep != nil && keep(key, entry.Value) {
			continue
		}
		delete(m.entries, key)
		evicted = append(evicted, key)
	}

	if len(evicted) > 0 {
		CacheEvictions.Add(float64(len(evicted)))
		CacheEntries.Sub(float64(len(evicted)))
		sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	}
	return evicted
}

// Clear removes every entry.
func (m *Manager[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	CacheEntries.Sub(float64(len(m.entries)))
	m.entries = make(map[stock.SearchKey]*Entry[V])
}
