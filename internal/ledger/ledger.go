// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger tracks per-run and per-day usage of every provider tier and
// enforces the escalation quota.
//
// The per-run checks of a reservation happen under a single mutex, and an
// escalation that passes them is held as pending until the per-day counter
// answers. Pending calls count against the per-run limits but are invisible
// to snapshots, so concurrent requests in the same run can never together
// exceed a limit and the mutex is never held across day counter I/O.
// Counters only grow: a granted call is never refunded, even if the backend
// call that followed it failed.
//
// A Ledger is constructed explicitly and handed to the router; there is no
// package-level state.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// ============================================================================
// ERRORS
// ============================================================================

// ErrQuotaExceeded is returned by Reserve when a limit would be crossed. It
// never leaves the router: a denied escalation is a silent downgrade.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Denial reasons.
const (
	ReasonDisabled     = "escalation_disabled"
	ReasonRunCalls     = "run_calls"
	ReasonRunTokens    = "run_tokens"
	ReasonDayCalls     = "day_calls"
	ReasonDayCounterIO = "day_counter_error"
)

// QuotaError describes a denied reservation.
type QuotaError struct {
	RunID  string
	Tier   tier.Tier
	Reason string
	Cause  error
}

func (e *QuotaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("quota exceeded for run %s on %s: %s: %v", e.RunID, e.Tier, e.Reason, e.Cause)
	}
	return fmt.Sprintf("quota exceeded for run %s on %s: %s", e.RunID, e.Tier, e.Reason)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// ============================================================================
// COUNTERS
// ============================================================================

// Counters holds the usage of one tier within one run.
type Counters struct {
	// Calls counts granted reservations.
	Calls int `json:"calls"`
	// ReservedTokens sums the estimates given at reservation time.
	ReservedTokens int `json:"reserved_tokens"`
	// TokensIn and TokensOut sum the amounts recorded after each call.
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// ChargedTokens is the amount counted against the per-run token limit: the
// larger of the reserved estimates and the recorded actuals.
func (c Counters) ChargedTokens() int {
	actual := c.TokensIn + c.TokensOut
	if c.ReservedTokens > actual {
		return c.ReservedTokens
	}
	return actual
}

// Snapshot is a point-in-time copy of one run's counters.
type Snapshot struct {
	RunID string                  `json:"run_id"`
	Tiers map[tier.Tier]Counters `json:"tiers"`
}

// Tier returns the counters for t, zero if the tier was never used.
func (s Snapshot) Tier(t tier.Tier) Counters {
	return s.Tiers[t]
}

// TotalCalls sums calls across tiers.
func (s Snapshot) TotalCalls() int {
	total := 0
	for _, c := range s.Tiers {
		total += c.Calls
	}
	return total
}

// TotalTokens sums recorded input and output tokens across tiers.
func (s Snapshot) TotalTokens() int {
	total := 0
	for _, c := range s.Tiers {
		total += c.TokensIn + c.TokensOut
	}
	return total
}

// ============================================================================
// LEDGER
// ============================================================================

// Ledger is the single authority for usage counters.
type Ledger struct {
	mu     sync.Mutex
	policy config.RunQuotaPolicy
	runs   map[string]*runState
	day    DayCounter
	now    func() time.Time
	logger *zap.Logger
}

// runState is the bookkeeping of one run. pending holds escalation
// reservations waiting on the day counter.
type runState struct {
	tiers      map[tier.Tier]*Counters
	pending    map[tier.Tier]Counters
	lastActive time.Time
}

func newRunState() *runState {
	return &runState{
		tiers:   make(map[tier.Tier]*Counters),
		pending: make(map[tier.Tier]Counters),
	}
}

func (r *runState) counters(t tier.Tier) *Counters {
	c, ok := r.tiers[t]
	if !ok {
		c = &Counters{}
		r.tiers[t] = c
	}
	return c
}

func (r *runState) inFlight() bool {
	return len(r.pending) > 0
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDayCounter replaces the in-memory per-day counter.
func WithDayCounter(dc DayCounter) Option {
	return func(l *Ledger) { l.day = dc }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a ledger enforcing policy. Without WithDayCounter the per-day
// count is kept in memory over a rolling 24 hour window.
func New(policy config.RunQuotaPolicy, opts ...Option) *Ledger {
	l := &Ledger{
		policy: policy,
		runs:   make(map[string]*runState),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.day == nil {
		l.day = NewMemoryDayCounter(config.WindowRolling, time.UTC)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// Policy returns the policy the ledger enforces.
func (l *Ledger) Policy() config.RunQuotaPolicy {
	return l.policy
}

// TryReserve reserves one call on t for runID. For the escalation tier the
// per-run call, per-run token and per-day call limits are checked and the
// run's counters only grow if all hold. Other tiers are always granted and
// only counted; they never wait on the day counter.
func (l *Ledger) TryReserve(runID string, t tier.Tier, estimatedTokens int) bool {
	return l.Reserve(runID, t, estimatedTokens) == nil
}

// Reserve is TryReserve returning a *QuotaError describing a denial.
func (l *Ledger) Reserve(runID string, t tier.Tier, estimatedTokens int) error {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	if !t.QuotaBounded() {
		l.mu.Lock()
		defer l.mu.Unlock()
		rs := l.runLocked(runID)
		c := rs.counters(t)
		c.Calls++
		c.ReservedTokens += estimatedTokens
		rs.lastActive = l.now()
		return nil
	}

	deny := func(reason string, cause error) error {
		return &QuotaError{RunID: runID, Tier: t, Reason: reason, Cause: cause}
	}
	p := l.policy
	if !p.EnableEscalation {
		return deny(ReasonDisabled, nil)
	}

	rs, reason := l.holdEscalation(runID, t, estimatedTokens)
	if reason != "" {
		return deny(reason, nil)
	}

	// The day counter may do network I/O; it is the only check with a side
	// effect and runs without the mutex.
	ok, err := l.day.TryIncrement(l.now(), p.EscalationMaxCallsPerDay)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(rs, t, estimatedTokens)

	if err != nil {
		l.logger.Error("day counter failed, denying reservation",
			zap.String("run_id", runID),
			zap.Stringer("tier", t),
			zap.Error(err))
		l.dropIfEmptyLocked(runID, rs)
		return deny(ReasonDayCounterIO, err)
	}
	if !ok {
		l.dropIfEmptyLocked(runID, rs)
		return deny(ReasonDayCalls, nil)
	}

	c := rs.counters(t)
	c.Calls++
	c.ReservedTokens += estimatedTokens
	rs.lastActive = l.now()
	return nil
}

// holdEscalation checks the per-run limits, counting reservations still in
// flight, and holds the call as pending when they pass. It returns the
// denial reason otherwise.
func (l *Ledger) holdEscalation(runID string, t tier.Tier, estimatedTokens int) (*runState, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var current, pending Counters
	if rs, ok := l.runs[runID]; ok {
		if c, ok := rs.tiers[t]; ok {
			current = *c
		}
		pending = rs.pending[t]
	}

	p := l.policy
	if current.Calls+pending.Calls+1 > p.EscalationMaxCallsPerRun {
		return nil, ReasonRunCalls
	}
	if current.ChargedTokens()+pending.ReservedTokens+estimatedTokens > p.EscalationMaxTokensPerRun {
		return nil, ReasonRunTokens
	}

	rs := l.runLocked(runID)
	pending.Calls++
	pending.ReservedTokens += estimatedTokens
	rs.pending[t] = pending
	return rs, ""
}

func (l *Ledger) releaseLocked(rs *runState, t tier.Tier, estimatedTokens int) {
	pending := rs.pending[t]
	pending.Calls--
	pending.ReservedTokens -= estimatedTokens
	if pending.Calls <= 0 {
		delete(rs.pending, t)
		return
	}
	rs.pending[t] = pending
}

// dropIfEmptyLocked forgets a run whose only activity was a denied
// reservation.
func (l *Ledger) dropIfEmptyLocked(runID string, rs *runState) {
	if len(rs.tiers) == 0 && !rs.inFlight() {
		delete(l.runs, runID)
	}
}

// RecordActual adds the token counts of a completed call. Negative values
// are ignored; counters never decrease.
func (l *Ledger) RecordActual(runID string, t tier.Tier, tokensIn, tokensOut int) {
	if tokensIn < 0 {
		tokensIn = 0
	}
	if tokensOut < 0 {
		tokensOut = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rs := l.runLocked(runID)
	c := rs.counters(t)
	c.TokensIn += tokensIn
	c.TokensOut += tokensOut
	rs.lastActive = l.now()
}

// Snapshot returns a copy of the counters of runID. It never creates or
// modifies state, so repeated calls without an intervening write return
// equal values. An unknown run yields an empty snapshot.
func (l *Ledger) Snapshot(runID string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(runID)
}

// Snapshots returns copies of every tracked run, sorted by run id.
func (l *Ledger) Snapshots() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.runs))
	for id, rs := range l.runs {
		if len(rs.tiers) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.snapshotLocked(id))
	}
	return out
}

// Evict drops the counters of a run and reports whether it did. A run with
// a reservation in flight is kept. The per-day count is not affected.
func (l *Ledger) Evict(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rs, ok := l.runs[runID]
	if !ok || rs.inFlight() {
		return false
	}
	delete(l.runs, runID)
	return true
}

// EvictIdle drops every run whose last reservation or recorded usage is at
// least idle old and returns their ids, sorted. A zero or negative idle
// evicts nothing.
func (l *Ledger) EvictIdle(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	var evicted []string
	for id, rs := range l.runs {
		if rs.inFlight() || rs.lastActive.After(cutoff) {
			continue
		}
		delete(l.runs, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}

// DayCount returns the escalation calls counted in the current daily window.
func (l *Ledger) DayCount() (int, error) {
	return l.day.Count(l.now())
}

func (l *Ledger) runLocked(runID string) *runState {
	rs, ok := l.runs[runID]
	if !ok {
		rs = newRunState()
		l.runs[runID] = rs
	}
	return rs
}

func (l *Ledger) snapshotLocked(runID string) Snapshot {
	snap := Snapshot{RunID: runID, Tiers: make(map[tier.Tier]Counters)}
	if rs, ok := l.runs[runID]; ok {
		for t, c := range rs.tiers {
			snap.Tiers[t] = *c
		}
	}
	return snap
}
