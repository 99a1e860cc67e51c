// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - BEAGLE_PROFILE: overrides profile
//   - BEAGLE_HEAVY_ENABLE: overrides quota.enable_escalation ("1", "true", "yes")
//   - BEAGLE_HEAVY_MAX_CALLS_PER_RUN: overrides quota.escalation_max_calls_per_run
//   - BEAGLE_HEAVY_MAX_TOKENS_PER_RUN: overrides quota.escalation_max_tokens_per_run
//   - BEAGLE_HEAVY_MAX_CALLS_PER_DAY: overrides quota.escalation_max_calls_per_day
//   - BEAGLE_DAILY_WINDOW: overrides routing.daily_window
//   - BEAGLE_GROK_API_URL: overrides the primary and escalation base_url
//   - BEAGLE_VLLM_URL: points the offline tier at a local vLLM server
//   - BEAGLE_OFFLINE_URL: overrides providers.offline.base_url
//   - BEAGLE_REDIS_URL: overrides redis.url
//   - BEAGLE_LOG_LEVEL, BEAGLE_LOG_FORMAT: override logging
//   - BEAGLE_API_TOKEN: overrides server.auth_token
//
// Integer values that do not parse are reported as configuration errors.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidateErrors

	if v := os.Getenv("BEAGLE_PROFILE"); v != "" {
		c.Profile = v
	}

	if v := os.Getenv("BEAGLE_HEAVY_ENABLE"); v != "" {
		enabled := parseBool(v)
		c.Quota.EnableEscalation = &enabled
	}
	for _, o := range []struct {
		env    string
		target **int
	}{
		{"BEAGLE_HEAVY_MAX_CALLS_PER_RUN", &c.Quota.EscalationMaxCallsPerRun},
		{"BEAGLE_HEAVY_MAX_TOKENS_PER_RUN", &c.Quota.EscalationMaxTokensPerRun},
		{"BEAGLE_HEAVY_MAX_CALLS_PER_DAY", &c.Quota.EscalationMaxCallsPerDay},
	} {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, ValidationError{Field: o.env, Message: fmt.Sprintf("'%s' is not an integer", v)})
			continue
		}
		*o.target = &n
	}

	if v := os.Getenv("BEAGLE_DAILY_WINDOW"); v != "" {
		c.Routing.DailyWindow = DailyWindow(strings.ToLower(v))
	}

	if v := os.Getenv("BEAGLE_GROK_API_URL"); v != "" {
		if c.Providers.Primary.Kind == KindOpenAI {
			c.Providers.Primary.BaseURL = v
		}
		if c.Providers.Escalation.Kind == KindOpenAI {
			c.Providers.Escalation.BaseURL = v
		}
	}

	if v := os.Getenv("BEAGLE_VLLM_URL"); v != "" {
		c.Providers.Offline.Kind = KindOpenAI
		c.Providers.Offline.BaseURL = v
	}
	if v := os.Getenv("BEAGLE_OFFLINE_URL"); v != "" {
		c.Providers.Offline.BaseURL = v
	}

	if v := os.Getenv("BEAGLE_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("BEAGLE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BEAGLE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("BEAGLE_API_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
