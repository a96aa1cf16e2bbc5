// Package ratelimit tracks upstream rate limiting (HTTP 429) and gates
// outbound page requests while the upstream quota is cooling down.
//
// The upstream quota resets on a schedule the client cannot predict, so a
// 429 opens a cooldown window during which further requests are refused
// locally instead of being sent. The window is shared across server
// instances when the Redis store is used.
package ratelimit

import (
	"time"
)

// Redis keys for cooldown state storage.
const (
	RedisKeyCooldownUntil = "indicator:rate_limit:until"
	RedisKeyCooldownHits  = "indicator:rate_limit:hits"
	RedisKeyLastUpdate    = "indicator:rate_limit:last_update"
)

// DefaultCooldown is used when the upstream does not send Retry-After.
const DefaultCooldown = 60 * time.Second

// State represents the current upstream cooldown state.
type State struct {
	// Until is the end of the current cooldown window. Zero means no cooldown.
	Until time.Time `json:"until"`

	// Hits is the number of 429 responses recorded in the current window.
	Hits int `json:"hits"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether the cooldown window is still open at now.
func (s *State) Active(now time.Time) bool {
	return !s.Until.IsZero() && now.Before(s.Until)
}

// Remaining returns the time left in the cooldown window.
// Returns 0 if the window has already closed.
func (s *State) Remaining(now time.Time) time.Duration {
	if !s.Active(now) {
		return 0
	}
	return s.Until.Sub(now)
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}
