package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/indicator-feed/pkg/cache"
	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator closed")

// Config holds coordinator configuration.
type Config struct {
	// StaleTime is how long fetched data counts as fresh. Activating a key
	// with older data serves it and refetches the loaded pages underneath.
	StaleTime time.Duration

	// Retention is how long an unused stream stays cached.
	Retention time.Duration

	// SweepInterval is how often Run evicts expired streams.
	SweepInterval time.Duration

	// FetchTimeout bounds a single fetch attempt.
	FetchTimeout time.Duration

	Retry client.RetryConfig

	// Clock drives staleness, retention and retry delays. Nil uses the real clock.
	Clock clockwork.Clock

	// Logger is optional. Nil uses the global logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		StaleTime:     5 * time.Minute,
		Retention:     30 * time.Minute,
		SweepInterval: time.Minute,
		FetchTimeout:  15 * time.Second,
		Retry:         client.DefaultRetryConfig(),
	}
}

// Coordinator owns the mapping from search key to stream. It guarantees at
// most one outstanding fetch per key and applies pages strictly in cursor
// order.
type Coordinator struct {
	mu      sync.Mutex
	fetcher client.PageFetcher
	config  Config
	clock   clockwork.Clock
	logger  zerolog.Logger
	entries *cache.Manager[*stream]
	active  stock.SearchKey
	closed  bool

	// running holds the keys with a FetchPage call whose result has not
	// been handed back yet, including calls of abandoned flights.
	running map[stock.SearchKey]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subsMu  sync.Mutex
	subs    map[int]func(stock.SearchKey)
	nextSub int
}

// New creates a new coordinator.
func New(fetcher client.PageFetcher, cfg Config) (*Coordinator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}

	defaults := DefaultConfig()
	if cfg.StaleTime < 0 || cfg.Retention < 0 || cfg.SweepInterval < 0 || cfg.FetchTimeout < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}
	if cfg.StaleTime == 0 {
		cfg.StaleTime = defaults.StaleTime
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaults.Retention
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.Retry == (client.RetryConfig{}) {
		cfg.Retry = defaults.Retry
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "coordinator").Logger()
	} else {
		logger = log.With().Str("component", "coordinator").Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		fetcher: fetcher,
		config:  cfg,
		clock:   cfg.Clock,
		logger:  logger,
		entries: cache.NewManager[*stream](cfg.Clock),
		running: make(map[stock.SearchKey]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int]func(stock.SearchKey)),
	}, nil
}

// Activate makes key the active key. The previously active key is
// deactivated: its pending fetch or retry is abandoned, but its cached
// pages survive for quick-back navigation.
//
// A key without pages starts its first fetch. A key whose data is older
// than StaleTime is served as is while its loaded pages are refetched.
func (c *Coordinator) Activate(key stock.SearchKey) error {
	if key.IsZero() {
		return stock.ErrEmptyKey
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	var changed []stock.SearchKey
	same := c.active == key
	if !same && !c.active.IsZero() {
		if old := c.deactivateLocked(); old != "" {
			changed = append(changed, old)
		}
	}
	c.active = key

	s, err := c.entries.Get(key)
	if errors.Is(err, cache.ErrCacheMiss) {
		s = newStream(key)
		c.entries.Put(key, s)
		c.logger.Debug().Str("symbol", key.String()).Msg("Created stream")
	}

	switch {
	case s.flight != nil:
		// already fetching under the current epoch
	case s.status == StatusIdle && len(s.pages) == 0:
		c.startLocked(s, modeFirst)
	case s.status == StatusError && !same:
		s.err = nil
		if len(s.pages) == 0 {
			c.startLocked(s, modeFirst)
		} else {
			s.status = StatusReady
		}
	}

	if s.flight == nil && s.status == StatusReady && len(s.pages) > 0 &&
		c.clock.Since(s.updatedAt) > c.config.StaleTime {
		c.logger.Debug().
			Str("symbol", key.String()).
			Dur("age", c.clock.Since(s.updatedAt)).
			Int("pages", len(s.pages)).
			Msg("Stream is stale - revalidating loaded pages")
		c.startLocked(s, modeRefresh)
	}

	changed = append(changed, key)
	c.mu.Unlock()

	c.notify(changed...)
	return nil
}

// Deactivate clears the active key, abandoning its pending work.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	old := c.deactivateLocked()
	c.active = ""
	c.mu.Unlock()

	if old != "" {
		c.notify(old)
	}
}

func (c *Coordinator) deactivateLocked() stock.SearchKey {
	if c.active.IsZero() {
		return ""
	}
	old := c.active
	if entry, ok := c.entries.Peek(old); ok {
		if entry.Value.flight != nil {
			c.logger.Debug().
				Str("symbol", old.String()).
				Uint64("epoch", entry.Value.epoch).
				Msg("Abandoning pending fetch of deactivated key")
		}
		entry.Value.abandon()
	}
	return old
}

// ActiveKey returns the active key, or "" if none.
func (c *Coordinator) ActiveKey() stock.SearchKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// FetchNextPage requests the page after the last one fetched. It is a no-op
// and returns false if the key is unknown, a fetch is already pending, the
// stream has no first page yet, or no more pages exist.
func (c *Coordinator) FetchNextPage(key stock.SearchKey) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	s, err := c.entries.Get(key)
	if err != nil || s.flight != nil || !s.hasMore || len(s.pages) == 0 {
		c.mu.Unlock()
		return false
	}

	s.err = nil
	c.startLocked(s, modeNext)
	c.mu.Unlock()

	c.notify(key)
	return true
}

// Retry re-issues the fetch that failed terminally. It returns false unless
// the stream is in the error state.
func (c *Coordinator) Retry(key stock.SearchKey) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	s, err := c.entries.Get(key)
	if err != nil || s.status != StatusError || s.flight != nil {
		c.mu.Unlock()
		return false
	}

	mode := s.failedMode
	if mode != modeFirst && len(s.pages) == 0 {
		mode = modeFirst
	}
	s.err = nil
	s.retries = 0
	c.logger.Info().
		Str("symbol", key.String()).
		Str("mode", mode.String()).
		Msg("Manual retry")
	c.startLocked(s, mode)
	c.mu.Unlock()

	c.notify(key)
	return true
}

// Refresh discards the key's stream and starts again from the first page.
func (c *Coordinator) Refresh(key stock.SearchKey) error {
	if key.IsZero() {
		return stock.ErrEmptyKey
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	s := newStream(key)
	if entry, ok := c.entries.Peek(key); ok {
		entry.Value.abandon()
		s.epoch = entry.Value.epoch
	}
	c.entries.Put(key, s)
	c.startLocked(s, modeFirst)
	c.logger.Info().Str("symbol", key.String()).Msg("Stream refreshed")
	c.mu.Unlock()

	c.notify(key)
	return nil
}

// Snapshot returns a copy of the key's stream and marks it as accessed.
func (c *Coordinator) Snapshot(key stock.SearchKey) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.entries.Get(key)
	if err != nil {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Keys returns the cached keys.
func (c *Coordinator) Keys() []stock.SearchKey {
	return c.entries.Keys()
}

// Subscribe registers fn to be called with a key after its stream changed.
// fn runs outside the coordinator lock and may call back into it.
// The returned function removes the subscription.
func (c *Coordinator) Subscribe(fn func(stock.SearchKey)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Coordinator) notify(keys ...stock.SearchKey) {
	if len(keys) == 0 {
		return
	}

	c.subsMu.Lock()
	fns := make([]func(stock.SearchKey), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, key := range keys {
		for _, fn := range fns {
			fn(key)
		}
	}
}

// Sweep evicts streams unused for longer than Retention. The active key and
// streams with a pending fetch or retry are never evicted.
func (c *Coordinator) Sweep() []stock.SearchKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.entries.Sweep(c.config.Retention, func(key stock.SearchKey, s *stream) bool {
		return key == c.active || s.flight != nil
	})
	if len(evicted) > 0 {
		c.logger.Info().
			Int("evicted", len(evicted)).
			Strs("symbols", keyStrings(evicted)).
			Msg("Evicted idle streams")
	}
	return evicted
}

// Run sweeps expired streams every SweepInterval until ctx is done or the
// coordinator is closed.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			c.Sweep()
		}
	}
}

// Close abandons all pending work and waits for running fetches to return.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok {
			entry.Value.abandon()
		}
	}
	c.entries.Clear()
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// startLocked begins a new flight for s. The caller must hold c.mu and
// must have checked that s has no flight.
func (c *Coordinator) startLocked(s *stream, mode fetchMode) {
	f := &flight{
		epoch:  s.epoch,
		mode:   mode,
		cursor: s.expectedCursor(mode),
	}
	s.flight = f
	s.status = mode.status()
	c.launchLocked(s, f)
}

// launchLocked runs one FetchPage call for f. If an abandoned call for the
// same key has not returned yet, f is queued and launched when it does.
func (c *Coordinator) launchLocked(s *stream, f *flight) {
	f.timer = nil
	if _, busy := c.running[s.key]; busy {
		f.queued = true
		c.logger.Debug().
			Str("symbol", s.key.String()).
			Int("cursor", int(f.cursor)).
			Uint64("epoch", f.epoch).
			Msg("Fetch queued behind abandoned call")
		return
	}
	f.queued = false
	c.running[s.key] = struct{}{}

	ctx, cancel := context.WithTimeout(c.ctx, c.config.FetchTimeout)
	f.cancel = cancel

	c.logger.Debug().
		Str("symbol", s.key.String()).
		Int("cursor", int(f.cursor)).
		Uint64("epoch", f.epoch).
		Int("attempt", f.failures).
		Str("mode", f.mode.String()).
		Msg("Fetch started")

	cursor := f.cursor
	activeFetches.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer activeFetches.Dec()
		defer cancel()

		page, err := c.fetcher.FetchPage(ctx, s.key, cursor)
		c.complete(s, f, page, err)
	}()
}

func (c *Coordinator) complete(s *stream, f *flight, page stock.Page, err error) {
	c.mu.Lock()
	delete(c.running, s.key)
	changed := c.applyLocked(s, f, page, err)
	c.launchQueuedLocked(s.key)
	c.mu.Unlock()

	if changed {
		c.notify(s.key)
	}
}

// applyLocked applies a fetch result to its stream. It reports whether the
// stream changed.
func (c *Coordinator) applyLocked(s *stream, f *flight, page stock.Page, err error) bool {
	logger := c.logger.With().
		Str("symbol", s.key.String()).
		Int("cursor", int(f.cursor)).
		Uint64("epoch", f.epoch).
		Logger()

	if s.flight != f || s.epoch != f.epoch {
		staleResultsDiscardedTotal.Inc()
		logger.Debug().Uint64("current_epoch", s.epoch).Msg("Discarding stale fetch result")
		return false
	}

	if err == nil {
		return c.applyPageLocked(s, f, page, logger)
	}
	return c.applyFailureLocked(s, f, err, logger)
}

// launchQueuedLocked starts the flight that waited for key's running call.
func (c *Coordinator) launchQueuedLocked(key stock.SearchKey) {
	if c.closed {
		return
	}
	entry, ok := c.entries.Peek(key)
	if !ok {
		return
	}
	if f := entry.Value.flight; f != nil && f.queued {
		c.launchLocked(entry.Value, f)
	}
}

func (c *Coordinator) applyPageLocked(s *stream, f *flight, page stock.Page, logger zerolog.Logger) bool {
	f.cancel = nil

	want := s.expectedCursor(f.mode)
	if f.mode == modeRefresh {
		want = f.refreshCursor()
	}
	if f.cursor != want {
		logger.Error().
			Int("expected_cursor", int(want)).
			Msg("Out-of-order page completion - discarding")
		s.flight = nil
		if len(s.pages) == 0 {
			s.status = StatusIdle
		} else {
			s.status = StatusReady
		}
		return true
	}

	if f.mode == modeRefresh {
		// Old pages stay visible until every loaded cursor is revalidated.
		f.fresh = append(f.fresh, page)
		if page.HasMore && len(f.fresh) < len(s.pages) {
			f.cursor = page.NextCursor
			f.failures = 0
			logger.Debug().
				Int("revalidated", len(f.fresh)).
				Int("loaded", len(s.pages)).
				Msg("Page revalidated")
			c.launchLocked(s, f)
			return false
		}
		s.pages = f.fresh
	} else {
		s.pages = append(s.pages, page)
	}
	s.flight = nil
	s.nextCursor = page.NextCursor
	s.hasMore = page.HasMore
	s.updatedAt = c.clock.Now()
	s.status = StatusReady
	s.err = nil
	s.retries = f.failures
	pagesAppendedTotal.Inc()

	logger.Info().
		Int("points", page.Len()).
		Int("total_points", s.pointCount()).
		Bool("has_more", s.hasMore).
		Str("mode", f.mode.String()).
		Msg("Page applied")
	return true
}

func (c *Coordinator) applyFailureLocked(s *stream, f *flight, err error, logger zerolog.Logger) bool {
	f.cancel = nil
	fe := client.Classify(err)
	kind := string(fe.Kind)

	if !c.closed && c.config.Retry.ShouldRetry(fe, f.failures) {
		delay := c.config.Retry.DelayFor(f.failures)
		f.failures++
		s.retries = f.failures

		retriesTotal.WithLabelValues(kind).Inc()
		retryBackoffSeconds.WithLabelValues(kind).Observe(delay.Seconds())
		logger.Warn().
			Err(err).
			Str("error_kind", kind).
			Int("attempt", f.failures).
			Dur("delay", delay).
			Msg("Fetch failed - retrying after backoff")

		f.timer = c.clock.AfterFunc(delay, func() { c.retryFlight(s, f) })
		return true
	}

	if fe.Retryable() {
		retryExhaustedTotal.WithLabelValues(kind).Inc()
	}

	s.flight = nil
	s.err = fe
	s.status = StatusError
	s.failedMode = f.mode
	s.retries = f.failures

	logger.Error().
		Err(err).
		Str("error_kind", kind).
		Int("status_code", fe.StatusCode).
		Int("retries", f.failures).
		Msg("Fetch failed")
	return true
}

func (c *Coordinator) retryFlight(s *stream, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || s.flight != f || s.epoch != f.epoch {
		staleResultsDiscardedTotal.Inc()
		return
	}
	c.launchLocked(s, f)
}

func keyStrings(keys []stock.SearchKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
