// Package pagination turns a changing search key into a cached,
// incrementally fetched sequence of pages.
//
// A Coordinator owns one stream per search key. Each stream holds the pages
// fetched so far, in cursor order, and a small state machine:
//
//	idle -> fetching_first -> ready <-> fetching_next -> ready
//	                   \                      /
//	                    `------> error <-----'
//
// At most one fetch (including its scheduled retries) is outstanding per
// key. Failed fetches are retried with the client.RetryConfig policy;
// rate limiting is surfaced immediately and requires Retry.
//
// Every activation of a key runs under an epoch. Deactivating a key (by
// activating another one, Deactivate, Refresh or Close) cancels its running
// request, stops its pending retry, and moves the stream to a new epoch;
// results that arrive for an older epoch are discarded.
//
// Example usage:
//
//	coord, err := pagination.New(fetcher, pagination.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer coord.Close()
//	go coord.Run(ctx)
//
//	coord.Activate(stock.MustParseKey("aapl"))
//	trigger := pagination.NewTrigger(coord, pagination.DefaultTriggerMargin)
//	trigger.OnScroll("AAPL", pagination.Geometry{ScrollOffset: 900, ViewportHeight: 600, ContentHeight: 1600})
//
// Data older than StaleTime is served immediately on activation while the
// loaded pages are refetched in cursor order underneath
// (stale-while-revalidate); the list is swapped once all of them are back.
// A key never has more than one FetchPage call running: a fetch started
// while an abandoned call for the same key is still out waits for it.
// Streams that
// are not active, have no pending fetch, and were not accessed for
// Retention are evicted by Sweep.
package pagination
