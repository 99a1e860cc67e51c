// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/retrieval"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAllAgentsFailed is returned when every specialist failed or timed out.
	ErrAllAgentsFailed = errors.New("all specialist agents failed")

	// ErrNoBaseAgent is returned by New without a base agent.
	ErrNoBaseAgent = errors.New("coordinator requires a base agent")
)

// Failure reasons.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
)

// =============================================================================
// COORDINATOR
// =============================================================================

const (
	// DefaultAgentTimeout bounds one specialist call.
	DefaultAgentTimeout = 60 * time.Second

	// DefaultFailurePenalty is subtracted from the base confidence per
	// failed specialist.
	DefaultFailurePenalty = 0.1
)

// Options configures a Coordinator.
type Options struct {
	Base           agent.Agent
	AgentTimeout   time.Duration
	FailurePenalty float64
	MaxConcurrent  int // zero means one goroutine per specialist
	Retriever      retrieval.Retriever
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
	Now            func() time.Time
}

// Coordinator answers a query with a base agent and has specialists review
// the answer concurrently.
type Coordinator struct {
	base          agent.Agent
	agentTimeout  time.Duration
	penalty       float64
	maxConcurrent int
	retriever     retrieval.Retriever
	logger        *zap.Logger
	metrics       *telemetry.Metrics
	now           func() time.Time
}

// New validates opts and fills defaults.
func New(opts Options) (*Coordinator, error) {
	if opts.Base == nil {
		return nil, ErrNoBaseAgent
	}
	if opts.FailurePenalty < 0 {
		return nil, fmt.Errorf("failure penalty must be non-negative, got %v", opts.FailurePenalty)
	}
	c := &Coordinator{
		base:          opts.Base,
		agentTimeout:  opts.AgentTimeout,
		penalty:       opts.FailurePenalty,
		maxConcurrent: opts.MaxConcurrent,
		retriever:     opts.Retriever,
		logger:        logging.OrNop(opts.Logger),
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
	if c.agentTimeout <= 0 {
		c.agentTimeout = DefaultAgentTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// outcome is one settled specialist.
type outcome struct {
	index  int
	name   string
	result agent.Result
	err    error
	reason string
}

// Orchestrate runs one coordinated query:
//
//  1. retrieve context snippets (a retriever error is logged and ignored)
//  2. run the base agent; its failure is fatal
//  3. run every specialist concurrently on the base answer, each under its
//     own timeout, and wait until all have settled
//  4. lower the base confidence by the penalty for each failed specialist
//
// When every specialist fails the partial result is returned together with
// ErrAllAgentsFailed.
func (c *Coordinator) Orchestrate(ctx context.Context, runID string, task agent.Task, specialists []agent.Agent) (agent.OrchestrationResult, error) {
	log := c.logger.With(zap.String("run_id", runID))
	result := agent.OrchestrationResult{
		RunID:     runID,
		Query:     task.Query,
		CreatedAt: c.now().UTC(),
	}

	if c.retriever != nil {
		snippets, err := c.retriever.Retrieve(ctx, task.Query)
		if err != nil {
			log.Warn("retrieval failed, continuing without context", zap.Error(err))
		} else if len(snippets) > 0 {
			result.Context = snippets
			task = task.With("context", strings.Join(snippets, "\n---\n"))
		}
	}

	base, err := c.runOne(ctx, c.base, runID, task)
	if err != nil {
		c.metrics.RecordAgentFailure(c.base.Name(), reasonFor(ctx, err))
		c.metrics.RecordRun("orchestrate", telemetry.OutcomeFailure)
		return result, fmt.Errorf("base agent %s: %w", c.base.Name(), err)
	}
	result.Base = base
	result.Answer = base.Text
	log.Debug("base answer ready",
		zap.String("agent", base.Agent),
		zap.Stringer("tier", base.Tier),
		zap.Float64("confidence", base.Confidence))

	outcomes := c.fanOut(ctx, runID, task.With("answer", base.Text), specialists)

	for _, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, agent.Failure{Agent: o.name, Reason: o.reason, Error: o.err.Error()})
			c.metrics.RecordAgentFailure(o.name, o.reason)
			log.Warn("specialist failed",
				zap.String("agent", o.name),
				zap.String("reason", o.reason),
				zap.Error(o.err))
			continue
		}
		result.Specialists = append(result.Specialists, o.result)
	}

	result.Confidence = Confidence(base.Confidence, c.penalty, len(result.Failures))

	if len(specialists) > 0 && len(result.Specialists) == 0 {
		c.metrics.RecordRun("orchestrate", telemetry.OutcomeFailure)
		return result, fmt.Errorf("%w: %d of %d", ErrAllAgentsFailed, len(result.Failures), len(specialists))
	}

	c.metrics.RecordRun("orchestrate", telemetry.OutcomeSuccess)
	log.Info("orchestration complete",
		zap.Int("specialists", len(result.Specialists)),
		zap.Int("failures", len(result.Failures)),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// fanOut runs every specialist and returns their outcomes in input order.
// It returns only after each one has settled.
func (c *Coordinator) fanOut(ctx context.Context, runID string, task agent.Task, specialists []agent.Agent) []outcome {
	if len(specialists) == 0 {
		return nil
	}

	// A plain Group: one specialist failing must not cancel the others.
	var g errgroup.Group
	if c.maxConcurrent > 0 {
		g.SetLimit(c.maxConcurrent)
	}

	settled := make(chan outcome, len(specialists))
	for i, sp := range specialists {
		i, sp := i, sp
		g.Go(func() error {
			res, err := c.runOne(ctx, sp, runID, task)
			o := outcome{index: i, name: sp.Name(), result: res, err: err}
			if err != nil {
				o.reason = reasonFor(ctx, err)
			}
			settled <- o
			return nil
		})
	}
	_ = g.Wait()
	close(settled)

	out := make([]outcome, len(specialists))
	for o := range settled {
		out[o.index] = o
	}
	return out
}

// runOne calls a under the per-agent timeout. An agent that ignores its
// context is abandoned when the timeout fires; its late result is dropped.
func (c *Coordinator) runOne(ctx context.Context, a agent.Agent, runID string, task agent.Task) (agent.Result, error) {
	actx, cancel := context.WithTimeout(ctx, c.agentTimeout)
	defer cancel()

	type reply struct {
		res agent.Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := a.Run(actx, runID, task)
		done <- reply{res, err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-actx.Done():
		return agent.Result{}, fmt.Errorf("agent %s: %w", a.Name(), actx.Err())
	}
}

func reasonFor(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ReasonTimeout
	}
	return ReasonError
}

// Confidence is max(0, base - penalty*failures), capped at 1.
func Confidence(base, penalty float64, failures int) float64 {
	v := base - penalty*float64(failures)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
