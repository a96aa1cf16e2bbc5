package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/indicator-feed/pkg/logging"
	"github.com/Sternrassler/indicator-feed/pkg/pagination"
	"github.com/Sternrassler/indicator-feed/pkg/stock"
)

// Terminal viewport model: one card per line.
const (
	lineHeight    = 20.0
	viewportLines = 10
)

func newBrowseCmd(a *app) *cobra.Command {
	var maxPages int

	cmd := &cobra.Command{
		Use:   "browse SYMBOL",
		Short: "Page through a symbol's indicator values",
		Long: `Page through a symbol's indicator values in the terminal.

The viewport is scrolled to the bottom after every page, so the next page
is requested exactly when a reader would reach the end of the list.

Examples:
  indicator-feed browse AAPL
  indicator-feed browse msft --max-pages 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := stock.ParseKey(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.browse(ctx, key, maxPages)
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = until the end of data)")
	return cmd
}

func (a *app) browse(ctx context.Context, key stock.SearchKey, maxPages int) error {
	if err := a.resolve(ctx); err != nil {
		return err
	}

	up, err := a.newUpstream(ctx)
	if err != nil {
		return err
	}
	defer up.Close()

	logger := logging.NewLogger("browse")
	cfg := a.cfg.CoordinatorConfig()
	cfg.Logger = &logger

	coord, err := pagination.New(up.client, cfg)
	if err != nil {
		return err
	}
	defer coord.Close()
	go coord.Run(ctx)

	changed := make(chan struct{}, 1)
	unsubscribe := coord.Subscribe(func(k stock.SearchKey) {
		if k != key {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	trigger := pagination.NewTrigger(coord, a.cfg.Trigger.Margin)
	if err := coord.Activate(key); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s RSI (window %d, %s)\n", key, a.cfg.Upstream.Window, a.cfg.Upstream.Timespan)

	printed := 0
	for {
		snap, err := waitSettled(ctx, coord, key, changed)
		if err != nil {
			return err
		}

		for ; printed < len(snap.Points); printed++ {
			fmt.Fprintf(a.out, "%4d. %s\n", printed+1, snap.Points[printed].Card())
		}

		if snap.IsError {
			fmt.Fprintf(a.out, "Error: %s\n", snap.Error.UserMessage)
			return fmt.Errorf("browse %s: %w", key, snap.Err)
		}
		if !snap.HasMore {
			fmt.Fprintf(a.out, "End of data (%d values)\n", printed)
			return nil
		}
		if maxPages > 0 && snap.Pages >= maxPages {
			fmt.Fprintf(a.out, "Stopped after %d pages (%d values)\n", snap.Pages, printed)
			return nil
		}

		// Scroll to the end of what has been printed.
		content := float64(printed) * lineHeight
		viewport := viewportLines * lineHeight
		offset := content - viewport
		if offset < 0 {
			offset = 0
		}
		g := pagination.Geometry{ScrollOffset: offset, ViewportHeight: viewport, ContentHeight: content}
		if !trigger.OnScroll(key, g) {
			return fmt.Errorf("browse %s: next page was not requested", key)
		}
	}
}

// waitSettled blocks until the stream has no pending fetch or retry.
func waitSettled(ctx context.Context, coord *pagination.Coordinator, key stock.SearchKey, changed <-chan struct{}) (pagination.Snapshot, error) {
	for {
		snap, ok := coord.Snapshot(key)
		if !ok {
			return pagination.Snapshot{}, fmt.Errorf("stream %s was evicted", key)
		}
		if !snap.IsFetching() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return pagination.Snapshot{}, ctx.Err()
		case <-changed:
		}
	}
}
