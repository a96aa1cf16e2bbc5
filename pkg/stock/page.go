package stock

import (
	"fmt"
	"time"
)

// Cursor is the forward pagination token. Pages are numbered from 1.
type Cursor int

// InitialCursor is the cursor of the first page of every stream.
const InitialCursor Cursor = 1

// Next returns the cursor that follows c.
func (c Cursor) Next() Cursor {
	return c + 1
}

// Point is one indicator value. Points are never mutated after a fetch.
type Point struct {
	// Timestamp in epoch milliseconds.
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Time returns the timestamp as a UTC time.
func (p Point) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

// Date formats the timestamp the way cards display it, e.g. "Jan 02, 2024".
func (p Point) Date() string {
	return p.Time().Format("Jan 02, 2006")
}

// Card renders the point as a single terminal line.
func (p Point) Card() string {
	return fmt.Sprintf("%s  %.2f", p.Date(), p.Value)
}

// Page is one page of points as returned by a fetch.
type Page struct {
	Points     []Point `json:"points"`
	NextCursor Cursor  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// Len returns the number of points in the page.
func (p Page) Len() int {
	return len(p.Points)
}
