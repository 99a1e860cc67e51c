// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/provider"
	"github.com/agourakis82/beagle-sub000/internal/retrieval"
	"github.com/agourakis82/beagle-sub000/internal/router"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// fakeAgent is a scripted agent.
type fakeAgent struct {
	name       string
	text       string
	confidence float64
	err        error
	delay      time.Duration
	ignoreCtx  bool
	lastTask   atomic.Pointer[agent.Task]
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Run(ctx context.Context, runID string, task agent.Task) (agent.Result, error) {
	f.lastTask.Store(&task)
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-ctx.Done():
				return agent.Result{}, ctx.Err()
			case <-time.After(f.delay):
			}
		}
	}
	if f.err != nil {
		return agent.Result{}, f.err
	}
	return agent.Result{Agent: f.name, Text: f.text, Confidence: f.confidence, TokensIn: 1, TokensOut: 1}, nil
}

func newCoordinator(t *testing.T, base agent.Agent, opts Options) *Coordinator {
	t.Helper()
	opts.Base = base
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoBaseAgent)

	_, err = New(Options{Base: &fakeAgent{name: "b"}, FailurePenalty: -1})
	assert.Error(t, err)

	c, err := New(Options{Base: &fakeAgent{name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentTimeout, c.agentTimeout)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		base, penalty float64
		failures      int
		want          float64
	}{
		{0.78, 0.1, 0, 0.78},
		{0.78, 0.1, 2, 0.58},
		{0.78, 0.1, 9, 0},
		{1.5, 0.1, 0, 1},
		{0.5, 0, 4, 0.5},
	}
	for _, tt := range tests {
		got := Confidence(tt.base, tt.penalty, tt.failures)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Confidence(%v, %v, %d) = %v, want %v", tt.base, tt.penalty, tt.failures, got, tt.want)
		}
	}
}

func TestOrchestrate_AggregatesAndPenalizes(t *testing.T) {
	base := &fakeAgent{name: "answer", text: "the answer", confidence: 0.8}
	ok1 := &fakeAgent{name: "quality", text: "good"}
	ok2 := &fakeAgent{name: "math", text: "sums check"}
	bad := &fakeAgent{name: "fact_checker", err: errors.New("backend down")}
	slow := &fakeAgent{name: "methodology", delay: time.Second}

	metrics := telemetry.NewMetrics()
	c := newCoordinator(t, base, Options{
		AgentTimeout:   50 * time.Millisecond,
		FailurePenalty: 0.1,
		Retriever:      retrieval.NewStatic("snippet A", "snippet B"),
		Metrics:        metrics,
	})

	start := time.Now()
	res, err := c.Orchestrate(context.Background(), "run-1", agent.Task{Query: "q"}, []agent.Agent{ok1, bad, slow, ok2})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	assert.Equal(t, "the answer", res.Answer)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	require.Len(t, res.Specialists, 2)
	assert.Equal(t, "quality", res.Specialists[0].Agent, "input order is kept")
	assert.Equal(t, "math", res.Specialists[1].Agent)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, ReasonError, res.Failures[0].Reason)
	assert.Equal(t, "methodology", res.Failures[1].Agent)
	assert.Equal(t, ReasonTimeout, res.Failures[1].Reason)
	assert.Equal(t, []string{"snippet A", "snippet B"}, res.Context)

	baseTask := base.lastTask.Load()
	require.NotNil(t, baseTask)
	assert.Contains(t, baseTask.Prompt(), "snippet A\n---\nsnippet B")
	specTask := ok1.lastTask.Load()
	require.NotNil(t, specTask)
	assert.Contains(t, specTask.Prompt(), "=== ANSWER ===\nthe answer")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AgentFailures.WithLabelValues("methodology", ReasonTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("orchestrate", telemetry.OutcomeSuccess)))
}

func TestOrchestrate_TimeoutAbandonsStuckAgent(t *testing.T) {
	base := &fakeAgent{name: "answer", text: "a", confidence: 0.9}
	stuck := &fakeAgent{name: "stuck", delay: 2 * time.Second, ignoreCtx: true}
	fine := &fakeAgent{name: "fine", text: "ok"}

	c := newCoordinator(t, base, Options{AgentTimeout: 30 * time.Millisecond, FailurePenalty: 0.1})
	start := time.Now()
	res, err := c.Orchestrate(context.Background(), "run-1", agent.Task{Query: "q"}, []agent.Agent{stuck, fine})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, res.Failures, 1)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestOrchestrate_AllSpecialistsFail(t *testing.T) {
	base := &fakeAgent{name: "answer", text: "a", confidence: 0.78}
	c := newCoordinator(t, base, Options{FailurePenalty: 0.1})

	res, err := c.Orchestrate(context.Background(), "run-1", agent.Task{Query: "q"}, []agent.Agent{
		&fakeAgent{name: "x", err: errors.New("no")},
		&fakeAgent{name: "y", err: errors.New("no")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllAgentsFailed)
	assert.Len(t, res.Failures, 2)
	assert.Empty(t, res.Specialists)
}

func TestOrchestrate_NoSpecialists(t *testing.T) {
	base := &fakeAgent{name: "answer", text: "a", confidence: 0.7}
	c := newCoordinator(t, base, Options{})
	res, err := c.Orchestrate(context.Background(), "run-1", agent.Task{Query: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.7, res.Confidence)
}

func TestOrchestrate_BaseFailureIsFatal(t *testing.T) {
	base := &fakeAgent{name: "answer", err: router.ErrAllTiersExhausted}
	spec := &fakeAgent{name: "quality", text: "never"}
	c := newCoordinator(t, base, Options{})

	_, err := c.Orchestrate(context.Background(), "run-1", agent.Task{Query: "q"}, []agent.Agent{spec})
	assert.ErrorIs(t, err, router.ErrAllTiersExhausted)
	assert.Nil(t, spec.lastTask.Load())
}

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string) ([]string, error) {
	return nil, errors.New("index offline")
}

func TestOrchestrate_RetrievalFailureIsNotFatal(t *testing.T) {
	base := &fakeAgent{name: "answer", text: "a", confidence: 0.7}
	c := newCoordinator(t, base, Options{Retriever: failingRetriever{}})
	res, err := c.Orchestrate(context.Background(), "run-1", agent.Task{Query: "q"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Context)
}

func TestOrchestrate_CancelledRunFailsUnresolvedUnits(t *testing.T) {
	base := &fakeAgent{name: "answer", text: "a", confidence: 0.9}
	slow := &fakeAgent{name: "slow", delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	c := newCoordinator(t, base, Options{FailurePenalty: 0.1})
	res, err := c.Orchestrate(ctx, "run-1", agent.Task{Query: "q"}, []agent.Agent{slow})
	assert.ErrorIs(t, err, ErrAllAgentsFailed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ReasonError, res.Failures[0].Reason)
}

// TestOrchestrate_WithRouter wires real routed agents through the router
// and checks that specialists share the run's escalation quota.
func TestOrchestrate_WithRouter(t *testing.T) {
	policy := config.RunQuotaPolicy{
		EnableEscalation:          true,
		EscalationMaxCallsPerRun:  1,
		EscalationMaxTokensPerRun: 1_000_000,
		EscalationMaxCallsPerDay:  100,
	}
	led := ledger.New(policy)
	r, err := router.New(router.Options{
		Ledger: led,
		Adapters: router.Adapters{
			Primary:         provider.NewMock("primary", "primary says Score: 0.70"),
			Escalation:      provider.NewMock("escalation", "heavy says"),
			OfflineFallback: provider.NewMock("offline", "offline"),
		},
	})
	require.NoError(t, err)

	c := newCoordinator(t, agent.NewAnswerAgent(r), Options{FailurePenalty: 0.1, MaxConcurrent: 2})
	res, err := c.Orchestrate(context.Background(), "run-7", agent.Task{Query: strings.Repeat("why ", 10)},
		[]agent.Agent{agent.NewFactChecker(r), agent.NewMethodologyReviewer(r), agent.NewQualityAssessor(r)})
	require.NoError(t, err)

	assert.InDelta(t, 0.70, res.Base.Confidence, 1e-9)
	escalated := 0
	for _, s := range res.Specialists {
		if s.Tier == tier.Escalation {
			escalated++
		}
	}
	assert.Equal(t, 1, escalated)
	assert.Equal(t, 1, led.Snapshot("run-7").Tier(tier.Escalation).Calls)
	assert.Equal(t, 3, led.Snapshot("run-7").Tier(tier.Primary).Calls)
}
