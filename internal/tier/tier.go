// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tier defines the provider tiers a request can be routed to.
//
// The set is closed: Primary is the general-purpose default, Escalation is
// the higher-capability quota-bounded backend, SpecialistMath is reserved
// for a math-specialised backend, and OfflineFallback is the local backend
// that is always available.
package tier

import (
	"fmt"
	"strings"
)

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier identifies a provider backend class.
type Tier int

const (
	// Primary is the default general-purpose backend.
	Primary Tier = iota
	// Escalation is the higher-capability backend, bounded by the run quota.
	Escalation
	// SpecialistMath is a math-specialised backend. It is never selected by
	// routing today; agents may call it directly.
	SpecialistMath
	// OfflineFallback is the local backend with no network dependency.
	OfflineFallback
)

// All returns every tier in declaration order.
func All() []Tier {
	return []Tier{Primary, Escalation, SpecialistMath, OfflineFallback}
}

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case Primary:
		return "primary"
	case Escalation:
		return "escalation"
	case SpecialistMath:
		return "specialist_math"
	case OfflineFallback:
		return "offline_fallback"
	default:
		return fmt.Sprintf("Tier(%d)", t)
	}
}

// ParseTier parses a tier name. Matching is case-insensitive and accepts
// "-" in place of "_".
func ParseTier(s string) (Tier, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch name {
	case "primary":
		return Primary, nil
	case "escalation":
		return Escalation, nil
	case "specialist_math", "math":
		return SpecialistMath, nil
	case "offline_fallback", "offline":
		return OfflineFallback, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// Valid reports whether t is one of the declared tiers.
func (t Tier) Valid() bool {
	return t >= Primary && t <= OfflineFallback
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// QuotaBounded reports whether calls to the tier are limited by the run
// quota policy. Only Escalation is.
func (t Tier) QuotaBounded() bool {
	return t == Escalation
}

// RequiresNetwork reports whether the tier depends on a remote backend.
func (t Tier) RequiresNetwork() bool {
	return t != OfflineFallback
}

// ============================================================================
// COST ESTIMATES
// ============================================================================

// InputCostPer1K returns the estimated cost per 1K input tokens in cents.
//
// List prices used for estimates:
//   - Primary (Grok 3 class): $3/M input = 0.3 cents/1K
//   - Escalation (Grok 4 Heavy class): $15/M input = 1.5 cents/1K
//   - SpecialistMath: $3/M input = 0.3 cents/1K
//   - OfflineFallback: free
func (t Tier) InputCostPer1K() float64 {
	switch t {
	case Primary, SpecialistMath:
		return 0.3
	case Escalation:
		return 1.5
	default:
		return 0.0
	}
}

// OutputCostPer1K returns the estimated cost per 1K output tokens in cents.
//
// List prices used for estimates:
//   - Primary (Grok 3 class): $15/M output = 1.5 cents/1K
//   - Escalation (Grok 4 Heavy class): $75/M output = 7.5 cents/1K
//   - SpecialistMath: $15/M output = 1.5 cents/1K
//   - OfflineFallback: free
func (t Tier) OutputCostPer1K() float64 {
	switch t {
	case Primary, SpecialistMath:
		return 1.5
	case Escalation:
		return 7.5
	default:
		return 0.0
	}
}

// CalculateCostCents estimates the cost in cents for the token counts.
func (t Tier) CalculateCostCents(inputTokens, outputTokens int) float64 {
	inputCost := float64(inputTokens) / 1000.0 * t.InputCostPer1K()
	outputCost := float64(outputTokens) / 1000.0 * t.OutputCostPer1K()
	return inputCost + outputCost
}
