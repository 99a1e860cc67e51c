// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"net/url"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/agourakis82/beagle-sub000/internal/config"
)

const redacted = "********"

// configOutput is the --json payload of the config commands.
type configOutput struct {
	Profile string                `json:"profile"`
	Policy  config.RunQuotaPolicy `json:"policy"`
	Config  *config.Config        `json:"config,omitempty"`
}

func newConfigCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fail(cmd, opts, err, nil)
			}
			safe := redact(cfg)
			out := configOutput{Profile: safe.Profile, Policy: safe.Policy, Config: safe}
			if opts.JSON {
				return emit(cmd, opts, out, nil)
			}
			w := cmd.OutOrStdout()
			printPolicy(w, safe.Profile, safe.Policy)
			fmt.Fprintln(w)
			return toml.NewEncoder(w).Encode(safe)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fail(cmd, opts, err, nil)
			}
			out := configOutput{Profile: cfg.Profile, Policy: cfg.Policy}
			return emit(cmd, opts, out, func(w io.Writer) {
				fmt.Fprintln(w, "configuration valid")
				printPolicy(w, cfg.Profile, cfg.Policy)
			})
		},
	}

	profiles := &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in deployment profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []configOutput
			for _, p := range config.Profiles() {
				out = append(out, configOutput{Profile: string(p), Policy: config.PolicyForProfile(p)})
			}
			return emit(cmd, opts, out, func(w io.Writer) {
				for _, o := range out {
					printPolicy(w, o.Profile, o.Policy)
				}
			})
		},
	}

	cmd.AddCommand(show, validate, profiles)
	return cmd
}

func printPolicy(w io.Writer, profile string, p config.RunQuotaPolicy) {
	if !p.EnableEscalation {
		fmt.Fprintf(w, "profile %s: escalation disabled\n", profile)
		return
	}
	fmt.Fprintf(w, "profile %s: escalation enabled, %d calls/run, %d tokens/run, %d calls/day\n",
		profile, p.EscalationMaxCallsPerRun, p.EscalationMaxTokensPerRun, p.EscalationMaxCallsPerDay)
}

// redact returns a copy of cfg with API keys, the server token and any
// password in the Redis URL masked.
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	for _, p := range []*config.ProviderConfig{
		&c.Providers.Primary, &c.Providers.Escalation, &c.Providers.SpecialistMath, &c.Providers.Offline,
	} {
		if p.APIKey != "" {
			p.APIKey = redacted
		}
	}
	if c.Server.AuthToken != "" {
		c.Server.AuthToken = redacted
	}
	if c.Redis.URL != "" {
		if u, err := url.Parse(c.Redis.URL); err == nil {
			c.Redis.URL = u.Redacted()
		} else {
			c.Redis.URL = redacted
		}
	}
	if c.Sink.DSN != "" {
		if u, err := url.Parse(c.Sink.DSN); err == nil && u.Scheme != "" {
			c.Sink.DSN = u.Redacted()
		} else {
			c.Sink.DSN = redacted
		}
	}
	return &c
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{"version": Version, "commit": GitCommit, "build_date": BuildDate}
			return emit(cmd, opts, info, func(w io.Writer) {
				fmt.Fprintf(w, "beagle %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			})
		},
	}
}
