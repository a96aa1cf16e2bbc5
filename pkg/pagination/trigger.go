package pagination

import (
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// Default geometry thresholds, in pixels.
const (
	DefaultTriggerMargin      = 200
	DefaultScrollTopThreshold = 200
)

// Geometry is the observed scroll state of the content area, in pixels.
type Geometry struct {
	ScrollOffset   float64 `json:"scroll_offset"`
	ViewportHeight float64 `json:"viewport_height"`
	ContentHeight  float64 `json:"content_height"`
}

// NearBottom reports whether the viewport is within margin of the end of
// the content.
func (g Geometry) NearBottom(margin float64) bool {
	return g.ScrollOffset+g.ViewportHeight >= g.ContentHeight-margin
}

// ShowScrollTop reports whether the scroll-to-top control should be shown.
func (g Geometry) ShowScrollTop(threshold float64) bool {
	return g.ScrollOffset > threshold
}

// PageSource is the part of the coordinator the trigger drives.
type PageSource interface {
	Snapshot(key stock.SearchKey) (Snapshot, bool)
	FetchNextPage(key stock.SearchKey) bool
}

// ShouldFetch decides whether a scroll observation warrants the next page.
// Errors suppress the trigger; they need the manual retry control.
func ShouldFetch(g Geometry, snap Snapshot, margin float64) bool {
	return g.NearBottom(margin) && snap.HasMore && !snap.IsFetching() && !snap.IsError
}

// Trigger turns scroll observations into next-page requests. It never asks
// for more than one page ahead of what the user has scrolled to.
type Trigger struct {
	source PageSource
	margin float64
}

// NewTrigger creates a trigger. A non-positive margin uses DefaultTriggerMargin.
func NewTrigger(source PageSource, margin float64) *Trigger {
	if margin <= 0 {
		margin = DefaultTriggerMargin
	}
	return &Trigger{source: source, margin: margin}
}

// OnScroll handles one scroll observation for key and reports whether a
// next-page fetch was started.
func (t *Trigger) OnScroll(key stock.SearchKey, g Geometry) bool {
	snap, ok := t.source.Snapshot(key)
	if !ok || !ShouldFetch(g, snap, t.margin) {
		return false
	}
	return t.source.FetchNextPage(key)
}
