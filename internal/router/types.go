// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/provider"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// ============================================================================
// ADAPTERS
// ============================================================================

// Adapters holds one backend per tier. Escalation and SpecialistMath may be
// nil; Primary and OfflineFallback are required by New.
type Adapters struct {
	Primary         provider.Adapter
	Escalation      provider.Adapter
	SpecialistMath  provider.Adapter
	OfflineFallback provider.Adapter
}

// For returns the adapter behind t, or nil.
func (a Adapters) For(t tier.Tier) provider.Adapter {
	switch t {
	case tier.Primary:
		return a.Primary
	case tier.Escalation:
		return a.Escalation
	case tier.SpecialistMath:
		return a.SpecialistMath
	case tier.OfflineFallback:
		return a.OfflineFallback
	default:
		return nil
	}
}

// ============================================================================
// RESULTS
// ============================================================================

// Attempt is one backend call made while routing a request.
type Attempt struct {
	Tier    tier.Tier     `json:"tier"`
	Backend string        `json:"backend"`
	Latency time.Duration `json:"latency"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

func newAttempt(t tier.Tier, backend string, latency time.Duration, err error) Attempt {
	a := Attempt{Tier: t, Backend: backend, Latency: latency, Err: err}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// Result is a routed completion.
type Result struct {
	Text      string        `json:"text"`
	Tier      tier.Tier     `json:"tier"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Estimated bool          `json:"estimated,omitempty"`
	Latency   time.Duration `json:"latency"`

	// Downgraded is set when escalation was wanted but not granted.
	Downgraded bool `json:"downgraded,omitempty"`

	// Attempts lists every backend call in order, the successful one last.
	Attempts []Attempt `json:"attempts"`
}

// TotalTokens returns TokensIn + TokensOut.
func (r Result) TotalTokens() int {
	return r.TokensIn + r.TokensOut
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d tokens in %s (%d attempts)", r.Tier, r.TotalTokens(), r.Latency.Round(time.Millisecond), len(r.Attempts))
}

// ============================================================================
// ERRORS
// ============================================================================

// ErrAllTiersExhausted is matched by every RoutingFailure.
var ErrAllTiersExhausted = errors.New("all tiers exhausted")

// RoutingFailure is returned when no tier produced a response. Cause is the
// context error when the run was cancelled, otherwise the last backend error.
type RoutingFailure struct {
	RunID    string
	Attempts []Attempt
	Cause    error
}

func (e *RoutingFailure) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllTiersExhausted.Error())
	if e.RunID != "" {
		b.WriteString(" for run ")
		b.WriteString(e.RunID)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			parts = append(parts, a.Tier.String()+": "+a.Error)
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Cause != nil && len(e.Attempts) == 0 {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *RoutingFailure) Unwrap() error {
	return e.Cause
}

func (e *RoutingFailure) Is(target error) bool {
	return target == ErrAllTiersExhausted
}
