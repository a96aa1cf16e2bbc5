package cache

import (
	"fmt"

	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// PageKey identifies one upstream page of one symbol.
type PageKey struct {
	Symbol stock.SearchKey
	Cursor stock.Cursor
}

// String generates a deterministic key string.
// Format: indicator:SYMBOL:page=N
//
// Example:
//
//	indicator:AAPL:page=2
func (k PageKey) String() string {
	return fmt.Sprintf("indicator:%s:page=%d", k.Symbol, k.Cursor)
}
