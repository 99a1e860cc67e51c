// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/review"
)

func newOrchestrateCmd(opts *Options) *cobra.Command {
	var (
		runID       string
		specialists []string
	)

	cmd := &cobra.Command{
		Use:     "orchestrate [query...]",
		Aliases: []string{"ask"},
		Short:   "Answer a query with the base agent and specialist reviewers",
		Example: `  beagle orchestrate "Is the effect size plausible?"
  beagle orchestrate --specialists fact_checker,math "..."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := textArg(cmd, args)
			if err != nil {
				return fail(cmd, opts, err, nil)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Orchestrate(ctx, runID, strings.TrimSpace(query), specialists)
				if err != nil {
					return fail(cmd, opts, err, res)
				}
				return emit(cmd, opts, res, func(w io.Writer) { printOrchestration(w, res) })
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run id (default: a new id)")
	f.StringSliceVar(&specialists, "specialists", nil, "specialists to consult (default: all)")
	return cmd
}

func printOrchestration(w io.Writer, res agent.OrchestrationResult) {
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "confidence: %.2f  run: %s\n", res.Confidence, res.RunID)
	for _, s := range res.Specialists {
		fmt.Fprintf(w, "  %-22s %-16s %.2f\n", s.Agent, s.Tier, s.Confidence)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %-22s failed (%s): %s\n", f.Agent, f.Reason, f.Error)
	}
}

// =============================================================================
// REVIEW
// =============================================================================

func newReviewCmd(opts *Options) *cobra.Command {
	var (
		runID   string
		summary string
	)

	cmd := &cobra.Command{
		Use:   "review [file]",
		Short: "Run a draft through critique, rewrite, adversarial review and arbitration",
		Long: "Run a draft through the sequential review pipeline. The draft is read from\n" +
			"file, or from stdin when no file or \"-\" is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := readDraft(cmd, args)
			if err != nil {
				return fail(cmd, opts, err, nil)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Review(ctx, runID, review.Input{Draft: draft, ContextSummary: summary})
				if err != nil {
					return fail(cmd, opts, err, report)
				}
				return emit(cmd, opts, report, func(w io.Writer) { printReport(w, report) })
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run id (default: a new id)")
	f.StringVar(&summary, "context", "", "context summary passed to every stage")
	return cmd
}

func readDraft(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		return textArg(cmd, nil)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read draft: %w", err)
	}
	return string(data), nil
}

func printReport(w io.Writer, r review.Report) {
	fmt.Fprintln(w, r.FinalDraft)
	fmt.Fprintln(w)
	for _, s := range r.Stages {
		note := ""
		if s.Downgraded {
			note = "  (downgraded)"
		}
		fmt.Fprintf(w, "  %-20s %-16s %s%s\n", s.Stage, s.Tier, s.Duration.Round(time.Millisecond), note)
	}
	fmt.Fprintf(w, "mean score: %.2f  run: %s\n", r.MeanScore(), r.RunID)
}
