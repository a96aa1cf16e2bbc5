package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/indicator-feed/internal/testutil"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// setupEnv points the CLI at a mock upstream from an empty working directory.
func setupEnv(t *testing.T) *testutil.MockUpstream {
	t.Helper()

	mock := testutil.NewMockUpstream()
	t.Cleanup(mock.Close)
	mock.SetSeries("AAPL", testutil.GenerateSeries(32, time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)))

	t.Chdir(t.TempDir())
	t.Setenv("INDICATOR_UPSTREAM_BASE_URL", mock.URL())
	t.Setenv("INDICATOR_UPSTREAM_API_KEY", "test-key")
	t.Setenv("INDICATOR_UPSTREAM_REQUESTS_PER_SECOND", "0")
	t.Setenv("INDICATOR_LOG_LEVEL", "error")

	return mock
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBrowse_UntilEndOfData(t *testing.T) {
	mock := setupEnv(t)

	out, err := execute(t, "browse", "aapl")
	if err != nil {
		t.Fatalf("browse error = %v\n%s", err, out)
	}

	if !strings.HasPrefix(out, "AAPL RSI (window 14, day)") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "   1. Jun 28, 2024  30.00") {
		t.Errorf("missing first card:\n%s", out)
	}
	if !strings.Contains(out, "  32. ") || strings.Contains(out, "  33. ") {
		t.Errorf("want exactly 32 cards:\n%s", out)
	}
	if !strings.Contains(out, "End of data (32 values)") {
		t.Errorf("missing end marker:\n%s", out)
	}
	if got := mock.RequestsFor("AAPL"); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
}

func TestBrowse_MaxPages(t *testing.T) {
	mock := setupEnv(t)

	out, err := execute(t, "browse", "AAPL", "--max-pages", "1")
	if err != nil {
		t.Fatalf("browse error = %v", err)
	}
	if !strings.Contains(out, "Stopped after 1 pages (20 values)") {
		t.Errorf("missing stop marker:\n%s", out)
	}
	if got := mock.RequestsFor("AAPL"); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

func TestBrowse_RateLimited(t *testing.T) {
	mock := setupEnv(t)
	mock.Enqueue(testutil.NewRateLimitResponse(30 * time.Second))

	out, err := execute(t, "browse", "AAPL")
	if err == nil {
		t.Fatal("browse should fail when rate limited")
	}
	if !strings.Contains(out, "Error: Rate limit exceeded. Please wait a moment before trying again.") {
		t.Errorf("missing rate limit message:\n%s", out)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1 (no automatic retry)", got)
	}
}

func TestBrowse_InvalidInput(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "browse", "   "); !errors.Is(err, stock.ErrEmptyKey) {
		t.Errorf("blank symbol error = %v, want ErrEmptyKey", err)
	}
	if _, err := execute(t, "browse"); err == nil {
		t.Error("browse without symbol should fail")
	}

	t.Setenv("INDICATOR_UPSTREAM_API_KEY", "")
	_, err := execute(t, "browse", "AAPL")
	if err == nil || !strings.Contains(err.Error(), "upstream.api_key") {
		t.Errorf("missing api key error = %v", err)
	}
}

func TestEnvFile(t *testing.T) {
	mock := setupEnv(t)
	os.Unsetenv("INDICATOR_UPSTREAM_API_KEY")

	if err := os.WriteFile(filepath.Join(".", ".env"), []byte("INDICATOR_UPSTREAM_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("INDICATOR_UPSTREAM_API_KEY") })

	if _, err := execute(t, "browse", "AAPL", "--max-pages", "1"); err != nil {
		t.Fatalf("browse with .env error = %v", err)
	}
	if got := mock.GetLastQuery().Get("apiKey"); got != "from-dotenv" {
		t.Errorf("apiKey = %q, want from-dotenv", got)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	setupEnv(t)
	t.Setenv("INDICATOR_SERVER_ADDR", "127.0.0.1:0")

	a := &app{out: io.Discard}
	if err := a.init(); err != nil {
		t.Fatalf("init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := a.serve(ctx); err != nil {
		t.Errorf("serve() error = %v, want clean shutdown", err)
	}
}
