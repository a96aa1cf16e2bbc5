// Package client provides the page fetcher for the upstream indicator API,
// the classified error taxonomy, and the retry/backoff policy.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/Sternrassler/indicator-feed/pkg/ratelimit"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indicator_upstream_requests_total",
		Help: "Total upstream indicator requests by status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "indicator_upstream_request_duration_seconds",
		Help:    "Upstream indicator request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indicator_fetch_errors_total",
		Help: "Total failed page fetches by error kind",
	}, []string{"kind"})
)

// PageFetcher fetches one page of indicator values.
type PageFetcher interface {
	// FetchPage performs exactly one upstream call. Every error it returns
	// is a *FetchError.
	FetchPage(ctx context.Context, key stock.SearchKey, cursor stock.Cursor) (stock.Page, error)
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the indicator endpoint; the symbol is appended as the last path segment
	BaseURL string

	// APIKey is sent as the apiKey query parameter
	APIKey string

	// Query parameters
	PageSize   int
	Window     int
	Timespan   string
	SeriesType string
	Order      string

	// Timeout bounds a single HTTP call
	Timeout time.Duration

	// Outbound pacing. RequestsPerSecond <= 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Cooldown is optional. When set, a 429 opens a cooldown window during
	// which requests fail fast with KindRateLimited.
	Cooldown *ratelimit.Tracker

	UserAgent string
}

// DefaultConfig returns the default configuration.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		PageSize:          20,
		Window:            14,
		Timespan:          "day",
		SeriesType:        "close",
		Order:             "desc",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             1,
		UserAgent:         "indicator-feed/1.0",
	}
}

// Client is the upstream page fetcher.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// New creates a new page fetcher.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0 (got %d)", cfg.PageSize)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "page-fetcher").Logger()

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		httpClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		http:    httpClient,
		limiter: ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.http.Close()
}

// indicatorResponse is the success body of the upstream endpoint.
type indicatorResponse struct {
	Results *struct {
		Values []stock.Point `json:"values"`
	} `json:"results"`
	// NextURL is nil when the upstream omits the field.
	NextURL *string `json:"next_url"`
}

// upstreamErrorBody is the optional error body of a non-2xx response.
type upstreamErrorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    json.RawMessage `json:"code"`
}

// FetchPage implements PageFetcher.
func (c *Client) FetchPage(ctx context.Context, key stock.SearchKey, cursor stock.Cursor) (stock.Page, error) {
	page, err := c.fetchPage(ctx, key, cursor)
	if err != nil {
		fe := Classify(err)
		fetchErrorsTotal.WithLabelValues(string(fe.Kind)).Inc()
		return stock.Page{}, fe
	}
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, key stock.SearchKey, cursor stock.Cursor) (stock.Page, error) {
	if key.IsZero() {
		return stock.Page{}, NewAPIError(0, "", stock.ErrEmptyKey.Error())
	}

	logger := c.logger.With().
		Str("symbol", key.String()).
		Int("cursor", int(cursor)).
		Logger()

	// Step 1: Check cooldown
	if c.config.Cooldown != nil {
		allowed, wait, err := c.config.Cooldown.ShouldAllowRequest(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Cooldown check failed")
		}
		if !allowed {
			logger.Warn().Dur("delay", wait).Msg("Request blocked by upstream cooldown")
			upstreamRequestsTotal.WithLabelValues("cooldown").Inc()
			return stock.Page{}, NewRateLimitedError()
		}
	}

	// Step 2: Pace outbound calls
	if err := c.limiter.Wait(ctx); err != nil {
		return stock.Page{}, NewNetworkError(err)
	}

	// Step 3: Execute the request
	logger.Debug().Msg("Fetching page")
	startTime := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("symbol", key.String()).
		SetQueryParams(map[string]string{
			"timespan":    c.config.Timespan,
			"adjusted":    "true",
			"window":      strconv.Itoa(c.config.Window),
			"series_type": c.config.SeriesType,
			"order":       c.config.Order,
			"limit":       strconv.Itoa(c.config.PageSize),
			"page":        strconv.Itoa(int(cursor)),
			"apiKey":      c.config.APIKey,
		}).
		Get("/{symbol}")

	upstreamRequestDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		logger.Debug().Err(err).Msg("Upstream request failed")
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return stock.Page{}, NewNetworkError(err)
	}

	status := resp.StatusCode()
	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()

	// Step 4: Map non-success responses
	if status == http.StatusTooManyRequests {
		if c.config.Cooldown != nil {
			retryAfter := ratelimit.ParseRetryAfter(resp.Header(), time.Now())
			if err := c.config.Cooldown.RecordRateLimited(ctx, retryAfter); err != nil {
				logger.Warn().Err(err).Msg("Failed to record upstream cooldown")
			}
		}
		return stock.Page{}, NewRateLimitedError()
	}

	if !resp.IsSuccess() {
		apiErr := parseErrorBody(status, resp.Bytes())
		logger.Debug().
			Int("status_code", status).
			Str("code", apiErr.Code).
			Msg("Upstream returned an error")
		return stock.Page{}, apiErr
	}

	// Step 5: Decode the page
	var body indicatorResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return stock.Page{}, NewMalformedError(err)
	}
	if body.Results == nil {
		return stock.Page{}, NewMalformedError(nil)
	}

	points := body.Results.Values
	if points == nil {
		points = []stock.Point{}
	}

	page := stock.Page{
		Points:     points,
		NextCursor: cursor.Next(),
		HasMore:    hasMore(len(points), c.config.PageSize, body.NextURL),
	}

	logger.Debug().
		Int("points", page.Len()).
		Bool("has_more", page.HasMore).
		Msg("Fetched page")

	return page, nil
}

// hasMore decides whether another page exists. Only an exactly full page
// can continue. It is ambiguous on a boundary, so an explicit next_url from
// the upstream settles it; without one the page is assumed to continue.
func hasMore(returned, pageSize int, nextURL *string) bool {
	if returned == 0 || returned != pageSize {
		return false
	}
	if nextURL != nil {
		return *nextURL != ""
	}
	return true
}

// parseErrorBody extracts {message|error, code} from a non-2xx body.
func parseErrorBody(status int, data []byte) *FetchError {
	var body upstreamErrorBody
	if len(data) == 0 || json.Unmarshal(data, &body) != nil {
		return NewAPIError(status, "", "")
	}

	message := body.Message
	if message == "" {
		message = body.Error
	}
	return NewAPIError(status, decodeCode(body.Code), message)
}

// decodeCode accepts a code given as either a JSON string or a number.
func decodeCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
