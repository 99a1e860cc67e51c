// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// =============================================================================
// COST REPORT TESTS
// =============================================================================

func TestSummarize(t *testing.T) {
	snap := ledger.Snapshot{
		RunID: "run-1",
		Tiers: map[tier.Tier]ledger.Counters{
			tier.OfflineFallback: {Calls: 1, TokensIn: 500, TokensOut: 500},
			tier.Primary:         {Calls: 2, TokensIn: 1000, TokensOut: 1000},
		},
	}

	report := Summarize(snap)

	require.Len(t, report.Tiers, 2)
	assert.Equal(t, tier.Primary, report.Tiers[0].Tier, "declaration order")
	assert.Equal(t, tier.OfflineFallback, report.Tiers[1].Tier)
	assert.Equal(t, 3, report.TotalCalls)
	assert.Equal(t, TokenCount{Input: 1500, Output: 1500}, report.Tokens)
	assert.InDelta(t, 1.8, report.TotalCents, 1e-9)
	assert.Greater(t, report.SavedCents, 0.0)
}

func TestSummarize_Empty(t *testing.T) {
	report := Summarize(ledger.Snapshot{RunID: "none"})
	assert.Empty(t, report.Tiers)
	assert.Zero(t, report.TotalCents)
	assert.Zero(t, report.SavedCents)
}

func TestSummarize_AllEscalationSavesNothing(t *testing.T) {
	report := Summarize(ledger.Snapshot{Tiers: map[tier.Tier]ledger.Counters{
		tier.Escalation: {Calls: 1, TokensIn: 2000, TokensOut: 1000},
	}})
	if math.Abs(report.SavedCents) > 1e-9 {
		t.Errorf("SavedCents = %v, want 0", report.SavedCents)
	}
}

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordTierCall(tier.Primary, OutcomeSuccess, 120*time.Millisecond)
	m.RecordTierCall(tier.Primary, OutcomeSuccess, 80*time.Millisecond)
	m.RecordTierCall(tier.Escalation, OutcomeFailure, time.Second)
	m.RecordReservation(tier.Escalation, true)
	m.RecordReservation(tier.Escalation, false)
	m.RecordDowngrade("quota")
	m.RecordExhausted()
	m.RecordAgentFailure("fact_checker", "timeout")
	m.RecordTokens(tier.Primary, 10, 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TierCalls.WithLabelValues("primary", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierCalls.WithLabelValues("escalation", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("escalation", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downgrades.WithLabelValues("quota")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exhausted))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.Tokens.WithLabelValues("primary", "out")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.RecordTierCall(tier.Primary, OutcomeSuccess, time.Second)
	m.RecordReservation(tier.Escalation, true)
	m.RecordDowngrade("")
	m.RecordExhausted()
	m.RecordAgentFailure("a", "")
	m.RecordStage("critique", time.Second)
	m.RecordRun("review", "ok")
	m.RecordTokens(tier.Primary, 1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordDowngrade("failure")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `beagle_router_downgrades_total{reason="failure"} 1`))
}
