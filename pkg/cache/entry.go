package cache

import (
	"time"

	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// Entry is one cached stream together with its bookkeeping timestamps.
type Entry[V any] struct {
	// Key is the search key the entry belongs to
	Key stock.SearchKey `json:"key"`

	// Value is the cached stream
	Value V `json:"value"`

	// CreatedAt is when the entry was first stored
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is the last time the entry was read or written
	LastAccessed time.Time `json:"last_accessed"`
}

// IdleFor returns how long the entry has gone without access.
// Returns 0 if the entry was accessed in the future relative to now.
func (e *Entry[V]) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(e.LastAccessed)
	if idle < 0 {
		return 0
	}
	return idle
}

// Expired reports whether the entry has been idle longer than retention.
func (e *Entry[V]) Expired(now time.Time, retention time.Duration) bool {
	return e.IdleFor(now) > retention
}
