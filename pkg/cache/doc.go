// Package cache holds the in-memory session cache that maps a search key to
// its pagination stream.
//
// Entries are owned by a single Manager and are never aliased outside it.
// Each entry remembers when it was created and when it was last accessed;
// Sweep removes entries whose idle time exceeds the retention budget, unless
// the caller's keep predicate says the entry is still in use (an in-flight
// fetch or the currently active key).
//
// # Basic Usage
//
//	manager := cache.NewManager[*Stream](clockwork.NewRealClock())
//
//	key := stock.MustParseKey("aapl")
//	manager.Put(key, newStream())
//
//	stream, err := manager.Get(key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// first activation for this key
//	}
//
//	// Evict entries idle for more than 30 minutes.
//	evicted := manager.Sweep(30*time.Minute, func(key stock.SearchKey, s *Stream) bool {
//		return s.InFlight()
//	})
//
// # Page Keys
//
// PageKey identifies one upstream page and is used to share identical fetches
// issued by different sessions:
//
//	cache.PageKey{Symbol: "AAPL", Cursor: 2}.String() // "indicator:AAPL:page=2"
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - indicator_cache_hits_total - Lookups that found an entry
//   - indicator_cache_misses_total - Lookups that found nothing
//   - indicator_cache_evictions_total - Entries removed by Sweep
//   - indicator_cache_entries - Entries currently held
package cache
