package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mnemo-ai/mnemo-go/internal/health"
)

// NewServeCmd constructs the `mnemo serve` command, which keeps the
// capability layer resident: it warms the embedding model, runs the periodic
// health monitor and cache sweeper, and exposes the local diagnostics
// listener.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resident capability layer with the diagnostics listener",
		Long: `Keep mnemo running: the embedding model stays warm, provider health is
probed periodically, expired cache entries are swept, and a loopback HTTP
listener serves /healthz, /readyz, and /metrics.

Examples:
  mnemo serve
  mnemo serve --addr 127.0.0.1:9100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()
			defer watchProgress(a.tracker)()

			if addr == "" {
				addr = a.cfg.Diag.Addr
			}

			// Warm the model up front so the listener's readiness reflects a
			// usable layer, not a pending lazy load.
			if err := a.embedder.Initialize(ctx); err != nil {
				a.log.Warn("serve: embedding model not ready at startup", slog.Any("error", err))
			}

			diag := health.NewDiagServer(addr, a.monitor, a.promReg, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.monitor.Run(gctx)
				return nil
			})
			g.Go(func() error {
				runCacheSweeper(gctx, a)
				return nil
			})
			g.Go(func() error {
				return diag.Run(gctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Diagnostics listen address (default from config)")

	return cmd
}

// runCacheSweeper purges expired durable cache rows on the configured
// interval until ctx is canceled. A zero interval disables the sweep.
func runCacheSweeper(ctx context.Context, a *app) {
	interval := a.cfg.Cache.SweepInterval.Std()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.cache.Sweep(ctx)
			if err != nil {
				a.log.Warn("serve: cache sweep failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				a.log.Info("serve: cache sweep", slog.Int64("removed", removed))
			}
		}
	}
}
