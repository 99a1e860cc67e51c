// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// Tier call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeMalformed = "malformed"
)

// Metrics bundles the Prometheus collectors of the router.
type Metrics struct {
	registry      *prometheus.Registry
	TierCalls     *prometheus.CounterVec
	TierLatency   *prometheus.HistogramVec
	Tokens        *prometheus.CounterVec
	Reservations  *prometheus.CounterVec
	Downgrades    *prometheus.CounterVec
	Exhausted     prometheus.Counter
	AgentFailures *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
}

// NewMetrics constructs a registry with every router collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beagle_tier_calls_total",
		Help: "Backend calls by tier and outcome",
	}, []string{"tier", "outcome"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beagle_tier_call_duration_seconds",
		Help:    "Backend call duration in seconds by tier",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"tier"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beagle_tier_tokens_total",
		Help: "Tokens recorded by tier and direction",
	}, []string{"tier", "direction"})

	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beagle_quota_reservations_total",
		Help: "Quota reservations by tier and result",
	}, []string{"tier", "result"})

	downgrades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beagle_router_downgrades_total",
		Help: "Requests served below the wanted tier, by reason",
	}, []string{"reason"})

	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beagle_router_exhausted_total",
		Help: "Requests for which every tier failed",
	})

	agentFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beagle_agent_failures_total",
		Help: "Specialist agent failures by agent and reason",
	}, []string{"agent", "reason"})

	stages := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beagle_review_stage_duration_seconds",
		Help:    "Review pipeline stage duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beagle_runs_total",
		Help: "Completed runs by kind and outcome",
	}, []string{"kind", "outcome"})

	reg.MustRegister(calls, latency, tokens, reservations, downgrades, exhausted, agentFailures, stages, runs)

	return &Metrics{
		registry:      reg,
		TierCalls:     calls,
		TierLatency:   latency,
		Tokens:        tokens,
		Reservations:  reservations,
		Downgrades:    downgrades,
		Exhausted:     exhausted,
		AgentFailures: agentFailures,
		StageDuration: stages,
		Runs:          runs,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTierCall records one backend call.
func (m *Metrics) RecordTierCall(t tier.Tier, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TierCalls.WithLabelValues(t.String(), outcome).Inc()
	m.TierLatency.WithLabelValues(t.String()).Observe(d.Seconds())
}

// RecordTokens adds recorded token counts.
func (m *Metrics) RecordTokens(t tier.Tier, in, out int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues(t.String(), "in").Add(float64(in))
	m.Tokens.WithLabelValues(t.String(), "out").Add(float64(out))
}

// RecordReservation records a granted or denied quota reservation.
func (m *Metrics) RecordReservation(t tier.Tier, granted bool) {
	if m == nil {
		return
	}
	result := "granted"
	if !granted {
		result = "denied"
	}
	m.Reservations.WithLabelValues(t.String(), result).Inc()
}

// RecordDowngrade records a request served below the wanted tier.
func (m *Metrics) RecordDowngrade(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.Downgrades.WithLabelValues(reason).Inc()
}

// RecordExhausted records a request for which every tier failed.
func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.Exhausted.Inc()
}

// RecordAgentFailure records a failed specialist.
func (m *Metrics) RecordAgentFailure(agent, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.AgentFailures.WithLabelValues(agent, reason).Inc()
}

// RecordStage records the duration of a review stage.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun records a completed orchestration or review run.
func (m *Metrics) RecordRun(kind, outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(kind, outcome).Inc()
}
