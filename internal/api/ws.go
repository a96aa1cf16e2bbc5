package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/search"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 90 * time.Second
	pingInterval = 45 * time.Second
	outboxSize   = 32
)

// Client message types.
const (
	MsgInput   = "input"
	MsgScroll  = "scroll"
	MsgNext    = "next"
	MsgRetry   = "retry"
	MsgRefresh = "refresh"
)

// Server message types.
const (
	MsgSession  = "session"
	MsgSnapshot = "snapshot"
	MsgError    = "error"
)

// ClientMessage is sent by the browser.
type ClientMessage struct {
	Type     string               `json:"type"`
	Text     string               `json:"text,omitempty"`
	Geometry *pagination.Geometry `json:"geometry,omitempty"`
}

// ServerMessage is pushed to the browser.
type ServerMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Stream    *StreamView     `json:"stream,omitempty"`
	Scroll    *ScrollResponse `json:"scroll,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(s.opts.AllowedOrigins))
	for _, origin := range s.opts.AllowedOrigins {
		allowed[origin] = true
	}
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
		EnableCompression: true,
	}
}

// serveWS attaches a WebSocket to a session. The session query parameter
// resumes an existing session; without it a new one is created.
// GET /ws
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	var (
		sess    *Session
		err     error
		created bool
	)
	if id := r.URL.Query().Get("session"); id != "" {
		sess, err = s.sessions.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	} else {
		sess, err = s.sessions.Create()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to create session")
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		created = true
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		if created {
			_ = s.sessions.Remove(sess.ID)
		}
		return
	}
	defer conn.Close()

	s.sessions.attach(sess)
	defer s.sessions.detach(sess)

	logger := s.logger.With().Str("session_id", sess.ID).Logger()
	logger.Debug().Msg("WebSocket attached")

	out := make(chan ServerMessage, outboxSize)
	dirty := make(chan struct{}, 1)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	markDirty := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	send := func(msg ServerMessage) {
		select {
		case out <- msg:
		case <-writerDone:
		}
	}

	// Notifications for the active key collapse into one pending snapshot.
	unsubscribe := sess.Coordinator.Subscribe(func(key stock.SearchKey) {
		if key == sess.Coordinator.ActiveKey() {
			markDirty()
		}
	})
	defer unsubscribe()

	debouncer := search.NewDebouncer(s.clock, s.opts.Debounce, func(key stock.SearchKey) {
		if err := sess.Coordinator.Activate(key); err != nil {
			send(ServerMessage{Type: MsgError, Error: err.Error()})
		}
	})
	defer debouncer.Stop()

	if err := writeMessage(conn, ServerMessage{Type: MsgSession, SessionID: sess.ID}); err != nil {
		logger.Debug().Err(err).Msg("WebSocket write failed")
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(writerDone)

		ping := s.clock.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			var err error
			select {
			case <-done:
				return
			case msg := <-out:
				err = writeMessage(conn, msg)
			case <-dirty:
				view := sess.View()
				err = writeMessage(conn, ServerMessage{Type: MsgSnapshot, Stream: &view})
			case <-ping.Chan():
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			if err != nil {
				logger.Debug().Err(err).Msg("WebSocket write failed")
				_ = conn.Close()
				return
			}
		}
	}()

	markDirty()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(ServerMessage{Type: MsgError, Error: "invalid message"})
			continue
		}
		s.handleClientMessage(sess, debouncer, msg, send)
	}

	close(done)
	wg.Wait()
	logger.Debug().Msg("WebSocket detached")
}

func (s *Server) handleClientMessage(sess *Session, debouncer *search.Debouncer, msg ClientMessage, send func(ServerMessage)) {
	switch msg.Type {
	case MsgInput:
		debouncer.Input(msg.Text)

	case MsgScroll:
		if msg.Geometry == nil {
			send(ServerMessage{Type: MsgError, Error: "scroll requires geometry"})
			return
		}
		resp := s.onScroll(sess, *msg.Geometry)
		send(ServerMessage{Type: MsgScroll, Scroll: &resp})

	case MsgNext, MsgRetry, MsgRefresh:
		key := sess.Coordinator.ActiveKey()
		if key.IsZero() {
			send(ServerMessage{Type: MsgError, Error: "no active search"})
			return
		}
		switch msg.Type {
		case MsgNext:
			sess.Coordinator.FetchNextPage(key)
		case MsgRetry:
			sess.Coordinator.Retry(key)
		case MsgRefresh:
			if err := sess.Coordinator.Refresh(key); err != nil {
				send(ServerMessage{Type: MsgError, Error: err.Error()})
			}
		}

	default:
		send(ServerMessage{Type: MsgError, Error: "unknown message type " + msg.Type})
	}
}

func writeMessage(conn *websocket.Conn, msg ServerMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
