package pagination

import (
	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// ErrorView is the serializable form of a classified fetch error.
type ErrorView struct {
	Kind        client.ErrorKind `json:"kind"`
	StatusCode  int              `json:"status_code,omitempty"`
	Code        string           `json:"code,omitempty"`
	Message     string           `json:"message"`
	UserMessage string           `json:"user_message"`
}

// Snapshot is a read-only copy of one stream as the UI observes it.
type Snapshot struct {
	Key    stock.SearchKey `json:"key"`
	Points []stock.Point   `json:"points"`
	Status Status          `json:"status"`

	IsLoadingFirstPage bool `json:"is_loading_first_page"`
	IsFetchingNextPage bool `json:"is_fetching_next_page"`
	IsRefreshing       bool `json:"is_refreshing"`
	IsError            bool `json:"is_error"`

	Err   *client.FetchError `json:"-"`
	Error *ErrorView         `json:"error,omitempty"`

	HasMore  bool `json:"has_more"`
	CanRetry bool `json:"can_retry"`
	Retries  int  `json:"retries"`
	Pages    int  `json:"pages"`
}

// IsFetching reports whether any fetch (or scheduled retry) is pending.
func (s Snapshot) IsFetching() bool {
	return s.IsLoadingFirstPage || s.IsFetchingNextPage || s.IsRefreshing
}

func (s *stream) snapshot() Snapshot {
	points := make([]stock.Point, 0, s.pointCount())
	for _, p := range s.pages {
		points = append(points, p.Points...)
	}

	snap := Snapshot{
		Key:                s.key,
		Points:             points,
		Status:             s.status,
		IsLoadingFirstPage: s.status == StatusFetchingFirst,
		IsFetchingNextPage: s.status == StatusFetchingNext,
		IsRefreshing:       s.status == StatusRefreshing,
		IsError:            s.status == StatusError,
		HasMore:            s.hasMore,
		CanRetry:           s.status == StatusError && s.flight == nil,
		Retries:            s.retries,
		Pages:              len(s.pages),
	}

	if s.status == StatusError && s.err != nil {
		snap.Err = s.err
		snap.Error = &ErrorView{
			Kind:        s.err.Kind,
			StatusCode:  s.err.StatusCode,
			Code:        s.err.Code,
			Message:     s.err.Message,
			UserMessage: s.err.UserMessage(),
		}
	}
	return snap
}
