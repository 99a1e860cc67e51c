// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/sink"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
)

func newUsageCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <run-id>",
		Short: "Show per-tier calls, tokens and estimated cost of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, ok, err := a.Usage(ctx, args[0])
				if err != nil {
					return fail(cmd, opts, err, nil)
				}
				if !ok {
					return fail(cmd, opts, fmt.Errorf("%w: %s", sink.ErrRunNotFound, args[0]), nil)
				}
				return emit(cmd, opts, report, func(w io.Writer) { printUsage(w, report) })
			})
		},
	}
}

func printUsage(w io.Writer, r telemetry.UsageReport) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	for _, t := range r.Tiers {
		fmt.Fprintf(w, "  %-16s %3d calls  %7d in  %7d out  %8.3f¢\n",
			t.Tier, t.Calls, t.Tokens.Input, t.Tokens.Output, t.CostCents)
	}
	fmt.Fprintf(w, "total: %d calls, %d tokens, %.3f¢ (saved %.3f¢)\n",
		r.TotalCalls, r.Tokens.Input+r.Tokens.Output, r.TotalCents, r.SavedCents)
}

// =============================================================================
// RUNS
// =============================================================================

func newRunsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				reader, err := readerOf(a)
				if err != nil {
					return fail(cmd, opts, err, nil)
				}
				metas, err := reader.List(ctx, limit)
				if err != nil {
					return fail(cmd, opts, err, nil)
				}
				return emit(cmd, opts, metas, func(w io.Writer) {
					if len(metas) == 0 {
						fmt.Fprintln(w, "no runs")
						return
					}
					for _, m := range metas {
						fmt.Fprintf(w, "%s  %s  %.2f  %2d calls  %s\n",
							m.SavedAt.Local().Format(time.DateTime), m.RunID, m.Confidence, m.TotalCalls, m.Query)
					}
				})
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				reader, err := readerOf(a)
				if err != nil {
					return fail(cmd, opts, err, nil)
				}
				rec, err := reader.Load(ctx, args[0])
				if err != nil {
					return fail(cmd, opts, err, nil)
				}
				return emit(cmd, opts, rec, func(w io.Writer) {
					printOrchestration(w, rec.Result)
					fmt.Fprintln(w)
					printUsage(w, rec.Usage)
				})
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func readerOf(a *app.App) (sink.Reader, error) {
	reader, ok := a.Sink.(sink.Reader)
	if !ok {
		return nil, config.ValidationError{
			Field:   "sink.kind",
			Message: fmt.Sprintf("sink '%s' cannot read runs back", a.Config.Sink.Kind),
		}
	}
	return reader, nil
}

// =============================================================================
// INDEX
// =============================================================================

func newIndexCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Add corpus files to the retrieval store",
		Long:  "Add every corpus file under dir (default: retrieval.corpus_dir) to the retrieval store.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Index(ctx, dir)
				if err != nil {
					return fail(cmd, opts, err, nil)
				}
				return emit(cmd, opts, map[string]int{"indexed": n}, func(w io.Writer) {
					fmt.Fprintf(w, "indexed %d documents\n", n)
				})
			})
		},
	}
}
