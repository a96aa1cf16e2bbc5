package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	rateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indicator_rate_limit_cooldowns_total",
		Help: "Total number of upstream 429 responses that opened or extended a cooldown",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indicator_rate_limit_blocks_total",
		Help: "Total number of requests refused locally during a cooldown",
	})
)

// Tracker records upstream rate limiting and gates requests.
type Tracker struct {
	store    Store
	clock    clockwork.Clock
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewTracker creates a new cooldown tracker. A zero cooldown uses DefaultCooldown.
func NewTracker(store Store, clock clockwork.Clock, cooldown time.Duration, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Tracker{
		store:    store,
		clock:    clock,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Cooldown returns the fallback cooldown duration.
func (t *Tracker) Cooldown() time.Duration {
	return t.cooldown
}

// GetState returns the current cooldown state.
func (t *Tracker) GetState(ctx context.Context) (State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return State{}, fmt.Errorf("load cooldown state: %w", err)
	}
	return state, nil
}

// RecordRateLimited opens (or extends) the cooldown window after a 429.
// A non-positive retryAfter falls back to the tracker's cooldown.
func (t *Tracker) RecordRateLimited(ctx context.Context, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		retryAfter = t.cooldown
	}

	state, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cooldown state: %w", err)
	}

	now := t.clock.Now()
	until := now.Add(retryAfter)
	if !state.Active(now) {
		state.Hits = 0
	}
	if until.After(state.Until) {
		state.Until = until
	}
	state.Hits++
	state.LastUpdate = now

	if err := t.store.Save(ctx, state, state.Until.Sub(now)); err != nil {
		return fmt.Errorf("save cooldown state: %w", err)
	}

	rateLimitCooldownsTotal.Inc()
	t.logger.Warn().
		Time("until", state.Until).
		Int("hits", state.Hits).
		Dur("retry_after", retryAfter).
		Msg("Upstream rate limit hit - cooling down")

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. When it may
// not, wait is the time left in the cooldown window.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return true, 0, fmt.Errorf("load cooldown state: %w", err)
	}

	now := t.clock.Now()
	if state.Active(now) {
		wait := state.Remaining(now)
		t.logger.Debug().
			Dur("wait", wait).
			Int("hits", state.Hits).
			Msg("Upstream cooldown active - refusing request")
		rateLimitBlocksTotal.Inc()
		return false, wait, nil
	}

	return true, 0, nil
}

// ParseRetryAfter parses a Retry-After header value given either as delay
// seconds or as an HTTP date. It returns 0 if the value is absent or invalid.
func ParseRetryAfter(headers http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
