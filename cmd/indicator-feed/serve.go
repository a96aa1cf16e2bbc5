package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/indicator-feed/internal/api"
	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket API",
		Long: `Run the HTTP/WebSocket API for browser sessions.

Each session gets its own stream coordinator; identical page requests of
concurrent sessions share a single upstream call. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.resolve(ctx); err != nil {
		return err
	}

	up, err := a.newUpstream(ctx)
	if err != nil {
		return err
	}
	defer up.Close()

	logger := logging.NewLogger("api")
	opts := api.DefaultOptions()
	opts.Coordinator = a.cfg.CoordinatorConfig()
	opts.AllowedOrigins = a.cfg.Server.AllowedOrigins
	opts.SessionIdleTimeout = a.cfg.Server.SessionIdleTimeout
	opts.SweepInterval = a.cfg.Pagination.SweepInterval
	opts.Debounce = a.cfg.Search.Debounce
	opts.DefaultSymbol = a.cfg.Search.DefaultSymbol
	opts.TriggerMargin = a.cfg.Trigger.Margin
	opts.ScrollTopThreshold = a.cfg.Trigger.ScrollTopThreshold
	opts.Logger = &logger

	srv, err := api.NewServer(client.NewSharedFetcher(up.client), opts)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go srv.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", a.cfg.Server.Addr).
			Str("upstream", a.cfg.Upstream.BaseURL).
			Msg("Starting indicator feed server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
