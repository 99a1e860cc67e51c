// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"strings"
)

// =============================================================================
// PROFILES
// =============================================================================

// Profile names a deployment profile.
type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileLab  Profile = "lab"
	ProfileProd Profile = "prod"
)

// Profiles returns the known profiles in order of increasing allowance.
func Profiles() []Profile {
	return []Profile{ProfileDev, ProfileLab, ProfileProd}
}

// ParseProfile parses a profile name. Unknown names are a configuration
// error; there is no silent fallback to dev.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development":
		return ProfileDev, nil
	case "lab":
		return ProfileLab, nil
	case "prod", "production":
		return ProfileProd, nil
	default:
		return "", ValidationError{
			Field:   "profile",
			Message: fmt.Sprintf("unknown profile %q, must be one of: dev, lab, prod", s),
		}
	}
}

// RunQuotaPolicy bounds use of the escalation tier.
//
// A limit of zero allows no escalation calls at all; it never means
// unlimited. The policy is resolved once at startup and passed by value.
type RunQuotaPolicy struct {
	EnableEscalation          bool `json:"enable_escalation"`
	EscalationMaxCallsPerRun  int  `json:"escalation_max_calls_per_run"`
	EscalationMaxTokensPerRun int  `json:"escalation_max_tokens_per_run"`
	EscalationMaxCallsPerDay  int  `json:"escalation_max_calls_per_day"`
}

// PolicyForProfile returns the built-in policy for a profile.
//
//	dev:  disabled, 0 calls/run, 0 tokens/run, 0 calls/day
//	lab:  enabled,  5 calls/run, 50k tokens/run, 50 calls/day
//	prod: enabled, 10 calls/run, 100k tokens/run, 200 calls/day
func PolicyForProfile(p Profile) RunQuotaPolicy {
	switch p {
	case ProfileLab:
		return RunQuotaPolicy{
			EnableEscalation:          true,
			EscalationMaxCallsPerRun:  5,
			EscalationMaxTokensPerRun: 50_000,
			EscalationMaxCallsPerDay:  50,
		}
	case ProfileProd:
		return RunQuotaPolicy{
			EnableEscalation:          true,
			EscalationMaxCallsPerRun:  10,
			EscalationMaxTokensPerRun: 100_000,
			EscalationMaxCallsPerDay:  200,
		}
	default:
		return RunQuotaPolicy{}
	}
}

// QuotaOverrides holds the optional [quota] section. Nil fields leave the
// profile value in place.
type QuotaOverrides struct {
	EnableEscalation          *bool `toml:"enable_escalation" json:"enable_escalation,omitempty" yaml:"enable_escalation"`
	EscalationMaxCallsPerRun  *int  `toml:"escalation_max_calls_per_run" json:"escalation_max_calls_per_run,omitempty" yaml:"escalation_max_calls_per_run"`
	EscalationMaxTokensPerRun *int  `toml:"escalation_max_tokens_per_run" json:"escalation_max_tokens_per_run,omitempty" yaml:"escalation_max_tokens_per_run"`
	EscalationMaxCallsPerDay  *int  `toml:"escalation_max_calls_per_day" json:"escalation_max_calls_per_day,omitempty" yaml:"escalation_max_calls_per_day"`
}

// Apply returns p with every non-nil override applied.
func (o QuotaOverrides) Apply(p RunQuotaPolicy) RunQuotaPolicy {
	if o.EnableEscalation != nil {
		p.EnableEscalation = *o.EnableEscalation
	}
	if o.EscalationMaxCallsPerRun != nil {
		p.EscalationMaxCallsPerRun = *o.EscalationMaxCallsPerRun
	}
	if o.EscalationMaxTokensPerRun != nil {
		p.EscalationMaxTokensPerRun = *o.EscalationMaxTokensPerRun
	}
	if o.EscalationMaxCallsPerDay != nil {
		p.EscalationMaxCallsPerDay = *o.EscalationMaxCallsPerDay
	}
	return p
}
