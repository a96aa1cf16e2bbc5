// Package testutil provides testing utilities for the indicator feed.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// IndicatorPath is the path prefix the mock serves; the symbol follows it.
const IndicatorPath = "/v1/indicators/rsi/"

// MockResponse defines a scripted response of the mock upstream.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock of the indicator endpoint.
// Each symbol has a full series that is served page by page using the
// limit and page query parameters.
type MockUpstream struct {
	server *httptest.Server
	mu     sync.RWMutex

	series   map[string][]stock.Point
	scripted []MockResponse
	delay    time.Duration

	// Tracking
	RequestCount int
	perSymbol    map[string]int
	LastQuery    url.Values
}

// NewMockUpstream creates and starts a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		series:    make(map[string][]stock.Point),
		perSymbol: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the base URL to configure the page fetcher with.
func (m *MockUpstream) URL() string {
	return m.server.URL + IndicatorPath
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and scripted responses.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.perSymbol = make(map[string]int)
	m.scripted = nil
	m.LastQuery = nil
}

// SetSeries sets the full series served for a symbol.
func (m *MockUpstream) SetSeries(symbol string, points []stock.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[strings.ToUpper(symbol)] = points
}

// SetDelay delays every response.
func (m *MockUpstream) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Enqueue schedules responses that are returned, in order, before
// normal paging resumes.
func (m *MockUpstream) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, responses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// RequestsFor returns the number of requests made for one symbol.
func (m *MockUpstream) RequestsFor(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perSymbol[strings.ToUpper(symbol)]
}

// GetLastQuery returns the query of the most recent request.
func (m *MockUpstream) GetLastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimPrefix(r.URL.Path, IndicatorPath)

	m.mu.Lock()
	m.RequestCount++
	m.perSymbol[symbol]++
	m.LastQuery = r.URL.Query()
	delay := m.delay
	var scripted *MockResponse
	if len(m.scripted) > 0 {
		next := m.scripted[0]
		m.scripted = m.scripted[1:]
		scripted = &next
	}
	points := m.series[symbol]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if scripted != nil {
		writeResponse(w, *scripted)
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}

	writeResponse(w, NewPageResponse(PageOf(points, page, limit)))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// PageOf returns the 1-based page of points for the given page size.
func PageOf(points []stock.Point, page, limit int) []stock.Point {
	start := (page - 1) * limit
	if start >= len(points) {
		return []stock.Point{}
	}
	end := start + limit
	if end > len(points) {
		end = len(points)
	}
	return points[start:end]
}

// GenerateSeries returns n daily points, newest first, starting at from.
func GenerateSeries(n int, from time.Time) []stock.Point {
	points := make([]stock.Point, n)
	for i := 0; i < n; i++ {
		points[i] = stock.Point{
			Timestamp: from.Add(-time.Duration(i) * 24 * time.Hour).UnixMilli(),
			Value:     30 + float64(i%40),
		}
	}
	return points
}

// NewPageResponse creates a 200 OK response carrying the given points.
func NewPageResponse(points []stock.Point) MockResponse {
	body := map[string]any{
		"status": "OK",
		"results": map[string]any{
			"values": points,
		},
	}
	data, _ := json.Marshal(body)
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(data),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
// A zero retryAfter omits the Retry-After header.
func NewRateLimitResponse(retryAfter time.Duration) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status":"ERROR","error":"You've exceeded the maximum requests per minute"}`,
	}
	if retryAfter > 0 {
		resp.Headers = map[string]string{
			"Retry-After": strconv.Itoa(int(retryAfter / time.Second)),
		}
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewAPIErrorResponse(http.StatusInternalServerError, "INTERNAL", "Internal server error")
}

// NewAPIErrorResponse creates an error response with {message, code}.
func NewAPIErrorResponse(status int, code, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"status":"ERROR","message":%q,"code":%q}`, message, code),
	}
}

// NewMalformedResponse creates a 200 OK response without results.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"status":"OK","request_id":"abc"}`,
	}
}
