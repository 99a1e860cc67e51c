// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// =============================================================================
// COST REPORT
// =============================================================================

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// TierCost is the usage and estimated cost of one tier within a run.
type TierCost struct {
	Tier      tier.Tier  `json:"tier"`
	Calls     int        `json:"calls"`
	Tokens    TokenCount `json:"tokens"`
	CostCents float64    `json:"cost_cents"`
}

// UsageReport summarises a run's usage with list-price estimates.
type UsageReport struct {
	RunID      string     `json:"run_id"`
	Tiers      []TierCost `json:"tiers"`
	TotalCalls int        `json:"total_calls"`
	Tokens     TokenCount `json:"tokens"`
	TotalCents float64    `json:"total_cents"`
	// SavedCents is what the same tokens would have cost had every call
	// gone to the escalation tier.
	SavedCents float64 `json:"saved_cents"`
}

// Summarize builds a report from a ledger snapshot. Tiers appear in
// declaration order and only if they were used.
func Summarize(snap ledger.Snapshot) UsageReport {
	report := UsageReport{RunID: snap.RunID}
	ceiling := 0.0

	for _, t := range tier.All() {
		c, ok := snap.Tiers[t]
		if !ok {
			continue
		}
		cost := t.CalculateCostCents(c.TokensIn, c.TokensOut)
		report.Tiers = append(report.Tiers, TierCost{
			Tier:      t,
			Calls:     c.Calls,
			Tokens:    TokenCount{Input: c.TokensIn, Output: c.TokensOut},
			CostCents: cost,
		})
		report.TotalCalls += c.Calls
		report.Tokens.Input += c.TokensIn
		report.Tokens.Output += c.TokensOut
		report.TotalCents += cost
		ceiling += tier.Escalation.CalculateCostCents(c.TokensIn, c.TokensOut)
	}

	report.SavedCents = ceiling - report.TotalCents
	if report.SavedCents < 0 {
		report.SavedCents = 0
	}
	return report
}
