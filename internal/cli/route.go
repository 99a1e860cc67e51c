// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/request"
	"github.com/agourakis82/beagle-sub000/internal/router"
)

// routeOutput is the --json payload of the route command.
type routeOutput struct {
	RunID string `json:"run_id"`
	router.Result
}

func newRouteCmd(opts *Options) *cobra.Command {
	var (
		runID string
		desc  request.Descriptor
	)

	cmd := &cobra.Command{
		Use:   "route [prompt...]",
		Short: "Send one prompt through the tier router",
		Long: "Send one prompt through the tier router. The prompt is read from stdin\n" +
			"when no argument is given or the only argument is \"-\".",
		Example: `  beagle route "Summarise the abstract"
  beagle route --critical --profile lab "Check this derivation"
  cat prompt.txt | beagle route --offline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := textArg(cmd, args)
			if err != nil {
				return fail(cmd, opts, err, nil)
			}
			if strings.TrimSpace(prompt) == "" {
				return fail(cmd, opts, fmt.Errorf("%w: prompt is empty", app.ErrInvalidRequest), nil)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				id, res, err := a.Route(ctx, runID, prompt, desc)
				out := routeOutput{RunID: id, Result: res}
				if err != nil {
					return fail(cmd, opts, err, out)
				}
				return emit(cmd, opts, out, func(w io.Writer) {
					fmt.Fprintln(w, res.Text)
					fmt.Fprintln(w)
					fmt.Fprintf(w, "tier: %s  tokens: %d in / %d out  latency: %s  run: %s\n",
						res.Tier, res.TokensIn, res.TokensOut, res.Latency.Round(time.Millisecond), id)
					if res.Downgraded {
						fmt.Fprintln(w, "escalation was wanted but not granted")
					}
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run to account the call to (default: a new id)")
	f.BoolVar(&desc.OfflineRequired, "offline", false, "use only the local backend")
	f.BoolVar(&desc.CriticalSection, "critical", false, "mark the request as a critical section")
	f.BoolVar(&desc.HighBiasRisk, "bias-risk", false, "mark the content as high bias risk")
	f.BoolVar(&desc.RequiresExpertReasoning, "expert", false, "ask for expert-level reasoning")
	f.BoolVar(&desc.RequiresHighQuality, "high-quality", false, "ask for careful output")
	f.BoolVar(&desc.RequiresMath, "math", false, "mark heavy quantitative content")
	f.BoolVar(&desc.RequiresVision, "vision", false, "mark image input")
	return cmd
}

// textArg joins args, or reads stdin when args is empty or just "-".
func textArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}
