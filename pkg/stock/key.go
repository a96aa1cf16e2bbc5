// Package stock defines the data model shared by the fetcher, the session
// cache and the pagination coordinator.
package stock

import (
	"errors"
	"strings"
)

// ErrEmptyKey is returned when a search term normalizes to an empty key.
var ErrEmptyKey = errors.New("search key is empty")

// SearchKey is a normalized (trimmed, upper-case) stock symbol.
// It identifies one independent pagination stream.
type SearchKey string

// ParseKey normalizes raw user input into a SearchKey.
func ParseKey(raw string) (SearchKey, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if key == "" {
		return "", ErrEmptyKey
	}
	return SearchKey(key), nil
}

// MustParseKey is like ParseKey but panics on empty input.
func MustParseKey(raw string) SearchKey {
	key, err := ParseKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

// String implements fmt.Stringer.
func (k SearchKey) String() string {
	return string(k)
}

// IsZero reports whether k is the zero key.
func (k SearchKey) IsZero() bool {
	return k == ""
}
