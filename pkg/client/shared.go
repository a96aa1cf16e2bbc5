package client

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/indicator-feed/pkg/cache"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

var sharedFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "indicator_shared_fetches_total",
	Help: "Total page fetch results delivered to callers of a shared in-flight fetch",
})

// SharedFetcher collapses identical concurrent fetches (same symbol and
// cursor) issued by different sessions into one upstream call.
type SharedFetcher struct {
	next PageFetcher
	sf   singleflight.Group
}

// NewSharedFetcher wraps next.
func NewSharedFetcher(next PageFetcher) *SharedFetcher {
	return &SharedFetcher{next: next}
}

// FetchPage implements PageFetcher. The shared call is detached from the
// caller's cancellation so one session leaving does not fail the others;
// each caller still returns as soon as its own context is done.
func (s *SharedFetcher) FetchPage(ctx context.Context, key stock.SearchKey, cursor stock.Cursor) (stock.Page, error) {
	pageKey := cache.PageKey{Symbol: key, Cursor: cursor}.String()

	ch := s.sf.DoChan(pageKey, func() (interface{}, error) {
		return s.next.FetchPage(context.WithoutCancel(ctx), key, cursor)
	})

	select {
	case <-ctx.Done():
		return stock.Page{}, NewNetworkError(ctx.Err())
	case res := <-ch:
		if res.Shared {
			sharedFetchesTotal.Inc()
		}
		if res.Err != nil {
			return stock.Page{}, Classify(res.Err)
		}
		return res.Val.(stock.Page), nil
	}
}
