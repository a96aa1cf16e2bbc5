// Package search turns raw search-box input into settled search keys.
package search

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// DefaultDelay is the quiet period after the last keystroke.
const DefaultDelay = 500 * time.Millisecond

// Debouncer emits a search key once input has been quiet for the configured
// delay. Keys that normalize to empty are never emitted, and a key equal to
// the last emitted one is suppressed.
type Debouncer struct {
	mu    sync.Mutex
	clock clockwork.Clock
	delay time.Duration
	emit  func(stock.SearchKey)

	timer   clockwork.Timer
	pending string
	seq     uint64
	last    stock.SearchKey
	stopped bool
}

// NewDebouncer creates a Debouncer. A nil clock uses the real clock and a
// non-positive delay uses DefaultDelay.
func NewDebouncer(clock clockwork.Clock, delay time.Duration, emit func(stock.SearchKey)) *Debouncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if emit == nil {
		emit = func(stock.SearchKey) {}
	}
	return &Debouncer{
		clock: clock,
		delay: delay,
		emit:  emit,
	}
}

// Input records the current text of the search box and restarts the quiet period.
func (d *Debouncer) Input(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = text
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(seq) })
}

// Flush settles pending input immediately. It reports whether a key was emitted.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.stopped || d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.seq++
	key, ok := d.settleLocked()
	d.mu.Unlock()

	if ok {
		d.emit(key)
	}
	return ok
}

// Stop discards pending input. Later calls to Input are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Last returns the most recently emitted key.
func (d *Debouncer) Last() stock.SearchKey {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	key, ok := d.settleLocked()
	d.mu.Unlock()

	if ok {
		d.emit(key)
	}
}

// settleLocked consumes the pending text. A cleared box forgets the last
// key so typing the same symbol again re-emits it.
func (d *Debouncer) settleLocked() (stock.SearchKey, bool) {
	d.timer = nil
	key, err := stock.ParseKey(d.pending)
	if err != nil {
		d.last = ""
		return "", false
	}
	if key == d.last {
		return "", false
	}
	d.last = key
	return key, true
}
