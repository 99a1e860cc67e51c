// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/server"
)

const (
	// shutdownTimeout bounds how long in-flight requests get after a signal.
	shutdownTimeout = 15 * time.Second
	sweepInterval   = 5 * time.Minute
)

func newServeCmd(opts *Options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: "Serve the HTTP API until interrupted. The corpus watcher is started when\n" +
			"retrieval.watch is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.StartWatcher(ctx); err != nil {
					return fail(cmd, opts, fmt.Errorf("start corpus watcher: %w", err), nil)
				}

				a.StartSweeper(ctx, sweepInterval)

				sc := a.Config.Server
				if addr != "" {
					sc.Addr = addr
				}
				srv := server.New(a, sc, a.Logger)

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				if !opts.JSON {
					fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s (profile %s)\n", sc.Addr, a.Config.Profile)
				}

				select {
				case err := <-errCh:
					if err != nil {
						return fail(cmd, opts, err, nil)
					}
					return nil
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.Logger.Warn("graceful shutdown failed", zap.Error(err))
				}
				<-errCh

				stats := a.Router.Statistics()
				return emit(cmd, opts, stats, func(w io.Writer) {
					fmt.Fprintf(w, "stopped after %d routes (%d fallbacks, %d downgrades, %d exhausted)\n",
						stats.TotalRoutes, stats.Fallbacks, stats.Downgrades, stats.Exhausted)
				})
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	return cmd
}
