// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/logging"
)

// Version information, set from main.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	Profile    string
	LogLevel   string
	JSON       bool
}

// NewRootCmd builds the beagle command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "beagle",
		Short:         "Tiered LLM routing with quota-controlled escalation",
		Long:          "beagle routes LLM requests across a primary, an escalation and an offline tier,\nenforcing per-run and per-day escalation quotas.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: config.toml in $BEAGLE_DATA_DIR or ~/.beagle)")
	pf.StringVar(&opts.Profile, "profile", "", "deployment profile override: dev, lab or prod")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override: debug, info, warn or error")
	pf.BoolVar(&opts.JSON, "json", false, "print results as a JSON envelope")

	cmd.AddCommand(
		newRouteCmd(opts),
		newOrchestrateCmd(opts),
		newReviewCmd(opts),
		newUsageCmd(opts),
		newRunsCmd(opts),
		newIndexCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var printed *reportedError
		if !errors.As(err, &printed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(ExitCode(err))
	}
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig loads the configuration and applies the flag overrides on top
// of file and environment settings.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	changed := false
	if opts.Profile != "" {
		cfg.Profile = opts.Profile
		changed = true
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
		changed = true
	}
	if changed {
		if err := cfg.Resolve(); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// withApp loads the configuration, builds the application and hands it to
// fn with the command's context. The application is closed when fn returns.
func withApp(cmd *cobra.Command, opts *Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(opts)
	if err != nil {
		return fail(cmd, opts, err, nil)
	}
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fail(cmd, opts, err, nil)
	}
	defer logger.Sync() //nolint:errcheck

	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return fail(cmd, opts, err, nil)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	return fn(ctx, a)
}
