package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "indicator_sessions_active",
	Help: "Open UI sessions",
})

// Session is one browser tab: its own coordinator and scroll trigger over
// the shared page fetcher.
type Session struct {
	ID          string
	Coordinator *pagination.Coordinator
	Trigger     *pagination.Trigger

	createdAt time.Time
	lastSeen  time.Time
	conns     int
}

// View returns the session's active stream as the UI sees it.
func (s *Session) View() StreamView {
	view := StreamView{
		SessionID: s.ID,
		Active:    s.Coordinator.ActiveKey(),
	}
	if view.Active.IsZero() {
		return view
	}
	if snap, ok := s.Coordinator.Snapshot(view.Active); ok {
		view.Snapshot = &snap
	}
	return view
}

// SessionStore owns the sessions of one server.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	fetcher       client.PageFetcher
	coordinator   pagination.Config
	defaultSymbol string
	triggerMargin float64
	idleTimeout   time.Duration
	clock         clockwork.Clock
	logger        zerolog.Logger
}

// NewSessionStore creates a store whose sessions fetch through fetcher.
func NewSessionStore(fetcher client.PageFetcher, opts Options) *SessionStore {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	idle := opts.SessionIdleTimeout
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	coordCfg := opts.Coordinator
	coordCfg.Clock = clock

	return &SessionStore{
		sessions:      make(map[string]*Session),
		fetcher:       fetcher,
		coordinator:   coordCfg,
		defaultSymbol: opts.DefaultSymbol,
		triggerMargin: opts.TriggerMargin,
		idleTimeout:   idle,
		clock:         clock,
		logger:        opts.logger().With().Str("component", "sessions").Logger(),
	}
}

// Create opens a session and activates the default symbol, if any.
func (st *SessionStore) Create() (*Session, error) {
	id := uuid.NewString()

	logger := st.logger.With().Str("session_id", id).Logger()
	cfg := st.coordinator
	cfg.Logger = &logger

	coord, err := pagination.New(st.fetcher, cfg)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	// Evicts the session's expired streams; returns when the coordinator closes.
	go coord.Run(context.Background())

	if st.defaultSymbol != "" {
		key, err := stock.ParseKey(st.defaultSymbol)
		if err == nil {
			if err := coord.Activate(key); err != nil {
				_ = coord.Close()
				return nil, fmt.Errorf("activate %s: %w", key, err)
			}
		}
	}

	now := st.clock.Now()
	sess := &Session{
		ID:          id,
		Coordinator: coord,
		Trigger:     pagination.NewTrigger(coord, st.triggerMargin),
		createdAt:   now,
		lastSeen:    now,
	}

	st.mu.Lock()
	st.sessions[id] = sess
	st.mu.Unlock()

	sessionsActive.Inc()
	logger.Info().Msg("Session created")
	return sess, nil
}

// Get returns the session and marks it as seen.
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = st.clock.Now()
	return sess, nil
}

// Remove closes the session and releases its coordinator.
func (st *SessionStore) Remove(id string) error {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	st.closeSession(sess)
	return nil
}

// Len returns the number of open sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// attach marks a live WebSocket on the session; attached sessions never idle out.
func (st *SessionStore) attach(sess *Session) {
	st.mu.Lock()
	sess.conns++
	sess.lastSeen = st.clock.Now()
	st.mu.Unlock()
}

func (st *SessionStore) detach(sess *Session) {
	st.mu.Lock()
	sess.conns--
	sess.lastSeen = st.clock.Now()
	st.mu.Unlock()
}

// Sweep closes sessions idle for longer than the idle timeout. It returns
// the closed session IDs.
func (st *SessionStore) Sweep() []string {
	now := st.clock.Now()

	st.mu.Lock()
	var expired []*Session
	for id, sess := range st.sessions {
		if sess.conns == 0 && now.Sub(sess.lastSeen) > st.idleTimeout {
			expired = append(expired, sess)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, sess := range expired {
		st.closeSession(sess)
		ids = append(ids, sess.ID)
	}

	sort.Strings(ids)
	return ids
}

// CloseAll closes every session.
func (st *SessionStore) CloseAll() {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for id, sess := range st.sessions {
		all = append(all, sess)
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	for _, sess := range all {
		st.closeSession(sess)
	}
}

func (st *SessionStore) closeSession(sess *Session) {
	if err := sess.Coordinator.Close(); err != nil && !errors.Is(err, pagination.ErrClosed) {
		st.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to close coordinator")
	}
	sessionsActive.Dec()
	st.logger.Info().
		Str("session_id", sess.ID).
		Dur("age", st.clock.Since(sess.createdAt)).
		Msg("Session closed")
}
