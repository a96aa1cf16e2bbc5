package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// StreamView is the session's active stream.
type StreamView struct {
	SessionID string               `json:"session_id"`
	Active    stock.SearchKey      `json:"active"`
	Snapshot  *pagination.Snapshot `json:"snapshot,omitempty"`
}

// ActionResponse reports whether a control started a fetch.
type ActionResponse struct {
	StreamView
	Started bool `json:"started"`
}

// ScrollResponse is the result of a scroll observation.
type ScrollResponse struct {
	StreamView
	Fetched       bool `json:"fetched"`
	ShowScrollTop bool `json:"show_scroll_top"`
}

type searchRequest struct {
	Term string `json:"term"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// session resolves the {id} URL parameter, writing 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// createSession opens a session.
// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

// deleteSession closes a session.
// DELETE /api/sessions/{id}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// search sets the settled search term. An empty term deactivates the stream.
// PUT /api/sessions/{id}/search
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := activate(sess, req.Term); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// getStream returns the active stream.
// GET /api/sessions/{id}/stream
func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// fetchNext requests the next page of the active stream.
// POST /api/sessions/{id}/next
func (s *Server) fetchNext(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, func(sess *Session, key stock.SearchKey) bool {
		return sess.Coordinator.FetchNextPage(key)
	})
}

// retry re-runs the failed fetch of the active stream.
// POST /api/sessions/{id}/retry
func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, func(sess *Session, key stock.SearchKey) bool {
		return sess.Coordinator.Retry(key)
	})
}

// refresh discards the active stream and fetches it from the first page.
// POST /api/sessions/{id}/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, func(sess *Session, key stock.SearchKey) bool {
		return sess.Coordinator.Refresh(key) == nil
	})
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, fn func(*Session, stock.SearchKey) bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	key := sess.Coordinator.ActiveKey()
	if key.IsZero() {
		writeError(w, http.StatusConflict, "no active search")
		return
	}

	started := fn(sess, key)
	writeJSON(w, http.StatusOK, ActionResponse{StreamView: sess.View(), Started: started})
}

// scroll feeds a scroll observation to the trigger.
// POST /api/sessions/{id}/scroll
func (s *Server) scroll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var g pagination.Geometry
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, s.onScroll(sess, g))
}

func (s *Server) onScroll(sess *Session, g pagination.Geometry) ScrollResponse {
	resp := ScrollResponse{ShowScrollTop: g.ShowScrollTop(s.opts.ScrollTopThreshold)}
	if key := sess.Coordinator.ActiveKey(); !key.IsZero() {
		resp.Fetched = sess.Trigger.OnScroll(key, g)
	}
	resp.StreamView = sess.View()
	return resp
}

// activate switches the session to term, or deactivates on an empty term.
func activate(sess *Session, term string) error {
	key, err := stock.ParseKey(term)
	if errors.Is(err, stock.ErrEmptyKey) {
		sess.Coordinator.Deactivate()
		return nil
	}
	if err != nil {
		return err
	}
	return sess.Coordinator.Activate(key)
}
