// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// ============================================================================
// STATISTICS
// ============================================================================

// TierStats counts backend calls on one tier.
type TierStats struct {
	Calls        int           `json:"calls"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	TokensIn     int           `json:"tokens_in"`
	TokensOut    int           `json:"tokens_out"`
	TotalLatency time.Duration `json:"total_latency"`
}

// AverageLatency is the mean latency of successful calls.
func (s TierStats) AverageLatency() time.Duration {
	if s.Successes == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Successes)
}

// Statistics is a process-wide routing summary.
type Statistics struct {
	TotalRoutes int                     `json:"total_routes"`
	Exhausted   int                     `json:"exhausted"`
	Fallbacks   int                     `json:"fallbacks"`
	Downgrades  int                     `json:"downgrades"`
	Served      map[tier.Tier]int       `json:"served"`
	Tiers       map[tier.Tier]TierStats `json:"tiers"`
}

// Distribution returns the share of successful routes served by each tier.
func (s Statistics) Distribution() map[tier.Tier]float64 {
	out := make(map[tier.Tier]float64, len(s.Served))
	total := 0
	for _, n := range s.Served {
		total += n
	}
	if total == 0 {
		return out
	}
	for t, n := range s.Served {
		out[t] = float64(n) / float64(total)
	}
	return out
}

// Summary returns a one-line human-readable summary.
func (s Statistics) Summary() string {
	if s.TotalRoutes == 0 {
		return "No requests routed yet"
	}
	d := s.Distribution()
	return fmt.Sprintf(
		"Routing: %d requests (%.0f%% primary, %.0f%% escalation, %.0f%% offline) | %d downgrades, %d fallbacks, %d exhausted",
		s.TotalRoutes,
		d[tier.Primary]*100,
		d[tier.Escalation]*100,
		d[tier.OfflineFallback]*100,
		s.Downgrades,
		s.Fallbacks,
		s.Exhausted,
	)
}

type statsRecorder struct {
	mu    sync.Mutex
	stats Statistics
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: Statistics{
		Served: make(map[tier.Tier]int),
		Tiers:  make(map[tier.Tier]TierStats),
	}}
}

func (r *statsRecorder) call(t tier.Tier, latency time.Duration, in, out int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.stats.Tiers[t]
	ts.Calls++
	if ok {
		ts.Successes++
		ts.TokensIn += in
		ts.TokensOut += out
		ts.TotalLatency += latency
	} else {
		ts.Failures++
	}
	r.stats.Tiers[t] = ts
}

func (r *statsRecorder) served(t tier.Tier, downgraded bool, fallbacks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countLocked(downgraded, fallbacks)
	r.stats.Served[t]++
}

func (r *statsRecorder) exhausted(downgraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countLocked(downgraded, 0)
	r.stats.Exhausted++
}

func (r *statsRecorder) countLocked(downgraded bool, fallbacks int) {
	r.stats.TotalRoutes++
	r.stats.Fallbacks += fallbacks
	if downgraded {
		r.stats.Downgrades++
	}
}

func (r *statsRecorder) snapshot() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	out.Served = make(map[tier.Tier]int, len(r.stats.Served))
	for k, v := range r.stats.Served {
		out.Served[k] = v
	}
	out.Tiers = make(map[tier.Tier]TierStats, len(r.stats.Tiers))
	for k, v := range r.stats.Tiers {
		out.Tiers[k] = v
	}
	return out
}
