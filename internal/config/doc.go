// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the beagle router.
//
// TOML is the primary format; JSON and YAML files are accepted by extension.
// Unknown keys are rejected in every format.
//
// # Key Types
//
//   - Config: main configuration structure
//   - Profile: named deployment profile (dev, lab, prod)
//   - RunQuotaPolicy: escalation limits resolved from the profile
//   - ProviderConfig: one backend per tier
//
// # Resolution Order
//
// The effective escalation policy is built from, lowest precedence first:
//   - the profile table (PolicyForProfile)
//   - the [quota] section of the config file
//   - BEAGLE_HEAVY_* environment variables
//
// # Usage
//
//	cfg, err := config.Load("")
//	if errors.Is(err, config.ErrConfiguration) {
//	    // fatal: refuse to start
//	}
//	policy := cfg.Policy
package config
