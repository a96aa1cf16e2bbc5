package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/indicator-feed/internal/testutil"
	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

type testEnv struct {
	upstream *testutil.MockUpstream
	server   *Server
	http     *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	upstream := testutil.NewMockUpstream()
	t.Cleanup(upstream.Close)
	upstream.SetSeries("AAPL", testutil.GenerateSeries(32, time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)))
	upstream.SetSeries("MSFT", testutil.GenerateSeries(5, time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)))

	cfg := client.DefaultConfig(upstream.URL(), "test-key")
	cfg.RequestsPerSecond = 0
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	opts := DefaultOptions()
	opts.Debounce = 10 * time.Millisecond
	opts.Logger = &logger
	opts.Coordinator.Logger = &logger
	if mutate != nil {
		mutate(&opts)
	}

	srv, err := NewServer(client.NewSharedFetcher(c), opts)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{upstream: upstream, server: srv, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp, data
}

func (e *testEnv) createSession(t *testing.T) StreamView {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", resp.StatusCode, body)
	}
	var view StreamView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return view
}

func (e *testEnv) stream(t *testing.T, id string) StreamView {
	t.Helper()
	resp, body := e.do(t, http.MethodGet, "/api/sessions/"+id+"/stream", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get stream status = %d, body %s", resp.StatusCode, body)
	}
	var view StreamView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return view
}

func (e *testEnv) waitForPoints(t *testing.T, id string, key stock.SearchKey, n int) StreamView {
	t.Helper()
	var view StreamView
	require.Eventually(t, func() bool {
		view = e.stream(t, id)
		return view.Active == key && view.Snapshot != nil &&
			view.Snapshot.Status == pagination.StatusReady && len(view.Snapshot.Points) == n
	}, 2*time.Second, 10*time.Millisecond)
	return view
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("/health = %d %q", resp.StatusCode, body)
	}

	env.createSession(t)

	resp, body = env.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "indicator_sessions_active") {
		t.Error("/metrics should expose indicator_sessions_active")
	}
}

func TestSession_DefaultSymbolLoadsFirstPage(t *testing.T) {
	env := newTestEnv(t, nil)

	view := env.createSession(t)
	if view.SessionID == "" {
		t.Fatal("session id should be set")
	}
	if view.Active != "AAPL" {
		t.Errorf("Active = %q, want AAPL", view.Active)
	}

	ready := env.waitForPoints(t, view.SessionID, "AAPL", 20)
	if !ready.Snapshot.HasMore {
		t.Error("first page of 32 points should have more")
	}
}

func TestSession_ScrollLoadsNextPage(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t).SessionID
	env.waitForPoints(t, id, "AAPL", 20)

	far := pagination.Geometry{ScrollOffset: 0, ViewportHeight: 600, ContentHeight: 2000}
	resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/scroll", far)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scroll status = %d", resp.StatusCode)
	}
	var scroll ScrollResponse
	_ = json.Unmarshal(body, &scroll)
	if scroll.Fetched || scroll.ShowScrollTop {
		t.Errorf("top of content: fetched=%v showScrollTop=%v, want false, false", scroll.Fetched, scroll.ShowScrollTop)
	}

	near := pagination.Geometry{ScrollOffset: 1300, ViewportHeight: 600, ContentHeight: 2000}
	_, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/scroll", near)
	_ = json.Unmarshal(body, &scroll)
	if !scroll.Fetched || !scroll.ShowScrollTop {
		t.Errorf("near bottom: fetched=%v showScrollTop=%v, want true, true", scroll.Fetched, scroll.ShowScrollTop)
	}

	view := env.waitForPoints(t, id, "AAPL", 32)
	if view.Snapshot.HasMore {
		t.Error("short page should end the stream")
	}

	_, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/scroll", near)
	_ = json.Unmarshal(body, &scroll)
	if scroll.Fetched {
		t.Error("terminal stream should not fetch again")
	}
	if got := env.upstream.RequestsFor("AAPL"); got != 2 {
		t.Errorf("upstream requests for AAPL = %d, want 2", got)
	}
}

func TestSession_Search(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t).SessionID

	resp, body := env.do(t, http.MethodPut, "/api/sessions/"+id+"/search", searchRequest{Term: " msft "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d, body %s", resp.StatusCode, body)
	}
	view := env.waitForPoints(t, id, "MSFT", 5)
	if view.Snapshot.HasMore {
		t.Error("MSFT has a single short page")
	}

	resp, body = env.do(t, http.MethodPut, "/api/sessions/"+id+"/search", searchRequest{Term: "  "})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty search status = %d", resp.StatusCode)
	}
	var cleared StreamView
	_ = json.Unmarshal(body, &cleared)
	if !cleared.Active.IsZero() || cleared.Snapshot != nil {
		t.Errorf("empty term should deactivate, got %+v", cleared)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/sessions/"+id+"/search", "not an object")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", resp.StatusCode)
	}
}

func TestSession_Controls(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.DefaultSymbol = "" })
	id := env.createSession(t).SessionID

	for _, path := range []string{"/next", "/retry", "/refresh"} {
		resp, _ := env.do(t, http.MethodPost, "/api/sessions/"+id+path, nil)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("%s without active search status = %d, want 409", path, resp.StatusCode)
		}
	}

	env.upstream.Enqueue(testutil.NewRateLimitResponse(0))
	env.do(t, http.MethodPut, "/api/sessions/"+id+"/search", searchRequest{Term: "AAPL"})

	var view StreamView
	require.Eventually(t, func() bool {
		view = env.stream(t, id)
		return view.Snapshot != nil && view.Snapshot.IsError
	}, 2*time.Second, 10*time.Millisecond)
	if view.Snapshot.Error == nil || view.Snapshot.Error.Kind != client.KindRateLimited {
		t.Fatalf("Error = %+v, want rate_limited", view.Snapshot.Error)
	}
	if !view.Snapshot.CanRetry {
		t.Error("rate limited stream should offer manual retry")
	}

	resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/retry", nil)
	var action ActionResponse
	_ = json.Unmarshal(body, &action)
	if resp.StatusCode != http.StatusOK || !action.Started {
		t.Fatalf("retry = %d started=%v", resp.StatusCode, action.Started)
	}
	env.waitForPoints(t, id, "AAPL", 20)

	resp, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/next", nil)
	_ = json.Unmarshal(body, &action)
	if resp.StatusCode != http.StatusOK || !action.Started {
		t.Fatalf("next = %d started=%v", resp.StatusCode, action.Started)
	}
	env.waitForPoints(t, id, "AAPL", 32)

	resp, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/refresh", nil)
	_ = json.Unmarshal(body, &action)
	if resp.StatusCode != http.StatusOK || !action.Started {
		t.Fatalf("refresh = %d started=%v", resp.StatusCode, action.Started)
	}
	env.waitForPoints(t, id, "AAPL", 20)
}

func TestSession_NotFoundAndDelete(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/sessions/missing/stream", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}

	id := env.createSession(t).SessionID
	resp, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id+"/stream", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted session status = %d, want 404", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

type emptyFetcher struct{}

func (emptyFetcher) FetchPage(_ context.Context, _ stock.SearchKey, _ stock.Cursor) (stock.Page, error) {
	return stock.Page{Points: []stock.Point{}}, nil
}

func TestSessionStore_SweepIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	opts := DefaultOptions()
	opts.Clock = clock
	opts.Logger = &logger
	opts.DefaultSymbol = ""
	opts.SessionIdleTimeout = 10 * time.Minute
	store := NewSessionStore(emptyFetcher{}, opts)
	defer store.CloseAll()

	idle, err := store.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	seen, _ := store.Create()
	attached, _ := store.Create()
	store.attach(attached)

	clock.Advance(6 * time.Minute)
	if _, err := store.Get(seen.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(5 * time.Minute)

	closed := store.Sweep()
	if len(closed) != 1 || closed[0] != idle.ID {
		t.Fatalf("Sweep() = %v, want [%s]", closed, idle.ID)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
	if _, err := store.Get(idle.ID); err != ErrSessionNotFound {
		t.Errorf("Get(swept) error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Remove(idle.ID); err != ErrSessionNotFound {
		t.Errorf("Remove(swept) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSession_EvictsExpiredStreams(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	opts := DefaultOptions()
	opts.Clock = clock
	opts.Logger = &logger
	opts.DefaultSymbol = "AAPL"
	store := NewSessionStore(emptyFetcher{}, opts)
	defer store.CloseAll()

	sess, err := store.Create()
	require.NoError(t, err)
	coord := sess.Coordinator

	aapl := stock.MustParseKey("AAPL")
	msft := stock.MustParseKey("MSFT")
	settled := func(key stock.SearchKey) func() bool {
		return func() bool {
			snap, ok := coord.Snapshot(key)
			return ok && snap.Status == pagination.StatusReady
		}
	}
	require.Eventually(t, settled(aapl), 2*time.Second, 5*time.Millisecond)
	require.NoError(t, coord.Activate(msft))
	require.Eventually(t, settled(msft), 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "session sweeper not running")

	clock.Advance(31 * time.Minute)
	require.Eventually(t, func() bool {
		keys := coord.Keys()
		return len(keys) == 1 && keys[0] == msft
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewServer_RequiresFetcher(t *testing.T) {
	if _, err := NewServer(nil, DefaultOptions()); err == nil {
		t.Error("NewServer(nil) should fail")
	}
}
