// Package api exposes indicator streams to browser sessions over REST and
// WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/metrics"
	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/search"
)

// Options configures the server.
type Options struct {
	// Coordinator is the per-session coordinator template; Clock and Logger
	// are filled in by the server.
	Coordinator pagination.Config

	AllowedOrigins     []string
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
	RequestTimeout     time.Duration

	Debounce           time.Duration
	DefaultSymbol      string
	TriggerMargin      float64
	ScrollTopThreshold float64

	Clock  clockwork.Clock
	Logger *zerolog.Logger
}

// DefaultOptions returns the server defaults.
func DefaultOptions() Options {
	return Options{
		Coordinator:        pagination.DefaultConfig(),
		AllowedOrigins:     []string{"http://localhost:5173"},
		SessionIdleTimeout: 30 * time.Minute,
		SweepInterval:      time.Minute,
		RequestTimeout:     60 * time.Second,
		Debounce:           search.DefaultDelay,
		DefaultSymbol:      "AAPL",
		TriggerMargin:      pagination.DefaultTriggerMargin,
		ScrollTopThreshold: pagination.DefaultScrollTopThreshold,
	}
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return log.Logger
}

// Server serves the session API.
type Server struct {
	sessions *SessionStore
	opts     Options
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewServer creates a server over fetcher. The fetcher is shared by all
// sessions, so it should be a client.SharedFetcher in production.
func NewServer(fetcher client.PageFetcher, opts Options) (*Server, error) {
	if fetcher == nil {
		return nil, errors.New("page fetcher is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Debounce <= 0 {
		opts.Debounce = search.DefaultDelay
	}
	if opts.ScrollTopThreshold <= 0 {
		opts.ScrollTopThreshold = pagination.DefaultScrollTopThreshold
	}

	return &Server{
		sessions: NewSessionStore(fetcher, opts),
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.logger().With().Str("component", "api").Logger(),
	}, nil
}

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// WebSocket connections are long-lived and stay outside the request timeout.
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Post("/sessions", s.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.deleteSession)
			r.Put("/search", s.search)
			r.Get("/stream", s.getStream)
			r.Post("/next", s.fetchNext)
			r.Post("/retry", s.retry)
			r.Post("/refresh", s.refresh)
			r.Post("/scroll", s.scroll)
		})
	})

	return r
}

// Run sweeps idle sessions until ctx is done. Each session coordinator
// evicts its own expired streams.
func (s *Server) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if closed := s.sessions.Sweep(); len(closed) > 0 {
				s.logger.Info().Int("closed", len(closed)).Msg("Closed idle sessions")
			}
		}
	}
}

// Close closes all sessions.
func (s *Server) Close() {
	s.sessions.CloseAll()
}
