package pagination

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// Status is the fetch status of one stream.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusFetchingFirst Status = "fetching_first"
	StatusFetchingNext  Status = "fetching_next"
	StatusRefreshing    Status = "refreshing"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// fetchMode says what a flight will do with its page.
type fetchMode int

const (
	modeFirst fetchMode = iota
	modeNext
	modeRefresh
)

func (m fetchMode) String() string {
	switch m {
	case modeNext:
		return "next"
	case modeRefresh:
		return "refresh"
	default:
		return "first"
	}
}

func (m fetchMode) status() Status {
	switch m {
	case modeNext:
		return StatusFetchingNext
	case modeRefresh:
		return StatusRefreshing
	default:
		return StatusFetchingFirst
	}
}

// flight is one logical fetch of one cursor, spanning all of its retries.
// A stream has at most one flight.
type flight struct {
	epoch    uint64
	mode     fetchMode
	cursor   stock.Cursor
	failures int

	// fresh collects revalidated pages until the refresh reaches the
	// number of pages previously loaded.
	fresh []stock.Page

	// At most one of cancel (request running), timer (retry pending) or
	// queued (waiting for an abandoned call on the same key) is set.
	cancel context.CancelFunc
	timer  clockwork.Timer
	queued bool
}

func (f *flight) stop() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.queued = false
}

// refreshCursor is the cursor a refresh flight fetches next.
func (f *flight) refreshCursor() stock.Cursor {
	if len(f.fresh) == 0 {
		return stock.InitialCursor
	}
	return f.fresh[len(f.fresh)-1].NextCursor
}

// stream is the accumulated pages and fetch state of one search key.
// All fields are guarded by the coordinator mutex.
type stream struct {
	key        stock.SearchKey
	pages      []stock.Page
	status     Status
	err        *client.FetchError
	nextCursor stock.Cursor
	hasMore    bool
	epoch      uint64
	retries    int
	updatedAt  time.Time
	failedMode fetchMode
	flight     *flight
}

func newStream(key stock.SearchKey) *stream {
	return &stream{
		key:        key,
		status:     StatusIdle,
		nextCursor: stock.InitialCursor,
	}
}

func (s *stream) expectedCursor(mode fetchMode) stock.Cursor {
	if mode == modeNext {
		return s.nextCursor
	}
	return stock.InitialCursor
}

// abandon moves the stream to a new epoch and drops its flight, so that
// nothing started under the previous activation can mutate it.
func (s *stream) abandon() {
	s.epoch++
	f := s.flight
	if f == nil {
		return
	}
	f.stop()
	s.flight = nil
	if len(s.pages) == 0 {
		s.status = StatusIdle
	} else {
		s.status = StatusReady
	}
}

func (s *stream) pointCount() int {
	n := 0
	for _, p := range s.pages {
		n += len(p.Points)
	}
	return n
}
