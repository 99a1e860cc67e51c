// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/provider"
	"github.com/agourakis82/beagle-sub000/internal/request"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// Options configures a Router.
type Options struct {
	// Policy is the run quota policy. When Ledger is set, Policy may be left
	// zero; a non-zero Policy must equal the ledger's.
	Policy   config.RunQuotaPolicy
	Ledger   *ledger.Ledger
	Adapters Adapters
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
}

// Router picks a tier for each request and falls back down the chain
// Escalation -> Primary -> OfflineFallback.
//
// The Router is safe for concurrent use.
type Router struct {
	policy   config.RunQuotaPolicy
	ledger   *ledger.Ledger
	adapters Adapters
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	stats    *statsRecorder
}

// New validates opts and returns a Router. Missing Primary or
// OfflineFallback adapters, or enabled escalation without an Escalation
// adapter, are configuration errors.
func New(opts Options) (*Router, error) {
	var errs config.ValidateErrors

	if opts.Adapters.Primary == nil {
		errs = append(errs, config.ValidationError{Field: "adapters.primary", Message: "a primary backend is required"})
	}
	if opts.Adapters.OfflineFallback == nil {
		errs = append(errs, config.ValidationError{Field: "adapters.offline", Message: "an offline fallback backend is required"})
	}

	policy := opts.Policy
	led := opts.Ledger
	if led == nil {
		led = ledger.New(policy, ledger.WithLogger(opts.Logger))
	} else if policy == (config.RunQuotaPolicy{}) {
		policy = led.Policy()
	} else if policy != led.Policy() {
		errs = append(errs, config.ValidationError{Field: "policy", Message: "router and ledger policies differ"})
	}

	if policy.EnableEscalation && opts.Adapters.Escalation == nil {
		errs = append(errs, config.ValidationError{Field: "adapters.escalation", Message: "escalation is enabled but no escalation backend is configured"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &Router{
		policy:   policy,
		ledger:   led,
		adapters: opts.Adapters,
		logger:   logging.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		stats:    newStatsRecorder(),
	}, nil
}

// Policy returns the quota policy in force.
func (r *Router) Policy() config.RunQuotaPolicy { return r.policy }

// Ledger returns the usage ledger the router charges.
func (r *Router) Ledger() *ledger.Ledger { return r.ledger }

// Adapters returns the configured backends.
func (r *Router) Adapters() Adapters { return r.adapters }

// Statistics returns a copy of the routing statistics.
func (r *Router) Statistics() Statistics { return r.stats.snapshot() }

// ============================================================================
// ROUTING
// ============================================================================

// Route sends prompt to the best tier desc allows and returns the first
// successful response.
//
// Order of checks:
//  1. OfflineRequired: only OfflineFallback is tried.
//  2. Escalation is tried when the policy enables it, desc wants it and the
//     ledger grants a reservation. A denial is a silent downgrade; a failed
//     call keeps its reservation.
//  3. Primary, then OfflineFallback.
//
// A malformed response is retried once on the same tier. Cancellation of
// ctx stops the chain. When nothing succeeds the error is a
// *RoutingFailure matching ErrAllTiersExhausted.
func (r *Router) Route(ctx context.Context, runID, prompt string, desc request.Descriptor) (Result, error) {
	log := r.logger.With(zap.String("run_id", runID))
	log.Debug("routing request", zap.Stringer("descriptor", desc))

	var attempts []Attempt

	if desc.OfflineRequired {
		res, err := r.attempt(ctx, runID, tier.OfflineFallback, prompt, desc, &attempts)
		if err != nil {
			return r.fail(ctx, runID, attempts, err, false)
		}
		return r.succeed(res, attempts, false), nil
	}

	downgraded := false
	if desc.WantsEscalation() {
		if reason, ok := r.reserveEscalation(runID, desc); ok {
			res, err := r.call(ctx, runID, tier.Escalation, prompt, &attempts)
			if err == nil {
				return r.succeed(res, attempts, false), nil
			}
			if ctx.Err() != nil {
				return r.fail(ctx, runID, attempts, err, false)
			}
			log.Warn("escalation failed, falling back to primary", zap.Error(err))
		} else {
			downgraded = true
			r.metrics.RecordDowngrade(reason)
			log.Info("escalation not granted, downgrading to primary",
				zap.String("reason", reason),
				zap.Int("approximate_tokens", desc.ApproximateTokens))
		}
	}

	for _, t := range []tier.Tier{tier.Primary, tier.OfflineFallback} {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, runID, attempts, err, downgraded)
		}
		res, err := r.attempt(ctx, runID, t, prompt, desc, &attempts)
		if err == nil {
			return r.succeed(res, attempts, downgraded), nil
		}
		if ctx.Err() != nil {
			return r.fail(ctx, runID, attempts, err, downgraded)
		}
		if t == tier.Primary {
			log.Warn("primary failed, falling back to offline", zap.Error(err))
		}
	}

	return r.fail(ctx, runID, attempts, attempts[len(attempts)-1].Err, downgraded)
}

// reserveEscalation asks the ledger for an escalation slot. It returns the
// denial reason when the slot is not granted.
func (r *Router) reserveEscalation(runID string, desc request.Descriptor) (string, bool) {
	if !r.policy.EnableEscalation {
		return ledger.ReasonDisabled, false
	}
	err := r.ledger.Reserve(runID, tier.Escalation, desc.ApproximateTokens)
	r.metrics.RecordReservation(tier.Escalation, err == nil)
	if err != nil {
		var qe *ledger.QuotaError
		if errors.As(err, &qe) {
			return qe.Reason, false
		}
		return err.Error(), false
	}
	return "", true
}

// attempt counts an unbounded tier in the ledger and calls it.
func (r *Router) attempt(ctx context.Context, runID string, t tier.Tier, prompt string, desc request.Descriptor, attempts *[]Attempt) (routed, error) {
	if err := r.ledger.Reserve(runID, t, desc.ApproximateTokens); err != nil {
		// Unbounded tiers are never denied.
		return routed{}, err
	}
	return r.call(ctx, runID, t, prompt, attempts)
}

type routed struct {
	tier tier.Tier
	resp provider.Response
}

// call sends prompt to t, retrying once on a malformed response. The
// reservation already made covers the retry. Actual usage is recorded
// before returning success.
func (r *Router) call(ctx context.Context, runID string, t tier.Tier, prompt string, attempts *[]Attempt) (routed, error) {
	adapter := r.adapters.For(t)
	if adapter == nil {
		err := provider.Failure(provider.KindUnavailable, t.String(), "no backend configured", nil)
		*attempts = append(*attempts, newAttempt(t, "", 0, err))
		return routed{}, err
	}

	var lastErr error
	for try := 0; try < 2; try++ {
		start := time.Now()
		resp, err := adapter.Send(ctx, prompt)
		latency := time.Since(start)

		if err == nil {
			*attempts = append(*attempts, newAttempt(t, adapter.Name(), latency, nil))
			r.ledger.RecordActual(runID, t, resp.TokensIn, resp.TokensOut)
			r.metrics.RecordTierCall(t, telemetry.OutcomeSuccess, latency)
			r.metrics.RecordTokens(t, resp.TokensIn, resp.TokensOut)
			r.stats.call(t, latency, resp.TokensIn, resp.TokensOut, true)
			if resp.Latency == 0 {
				resp.Latency = latency
			}
			return routed{tier: t, resp: resp}, nil
		}

		malformed := provider.KindOf(err) == provider.KindMalformedResponse
		if malformed {
			r.metrics.RecordTierCall(t, telemetry.OutcomeMalformed, latency)
		} else {
			r.metrics.RecordTierCall(t, telemetry.OutcomeFailure, latency)
		}
		r.stats.call(t, latency, 0, 0, false)

		if malformed && try == 1 {
			err = provider.Failure(provider.KindUnavailable, adapter.Name(), "malformed response after retry", err)
		}
		*attempts = append(*attempts, newAttempt(t, adapter.Name(), latency, err))
		lastErr = err

		if !malformed || ctx.Err() != nil {
			break
		}
		if try == 0 {
			r.logger.Debug("malformed response, retrying once",
				zap.String("run_id", runID),
				zap.Stringer("tier", t),
				zap.Error(err))
		}
	}
	return routed{}, lastErr
}

func (r *Router) succeed(res routed, attempts []Attempt, downgraded bool) Result {
	fallbacks := 0
	for _, a := range attempts {
		if a.Err != nil && a.Tier != res.tier {
			fallbacks++
			break
		}
	}
	r.stats.served(res.tier, downgraded, fallbacks)

	r.logger.Debug("request routed",
		zap.Stringer("tier", res.tier),
		zap.Int("tokens_in", res.resp.TokensIn),
		zap.Int("tokens_out", res.resp.TokensOut),
		zap.Bool("downgraded", downgraded),
		zap.Int("attempts", len(attempts)))

	return Result{
		Text:       res.resp.Text,
		Tier:       res.tier,
		TokensIn:   res.resp.TokensIn,
		TokensOut:  res.resp.TokensOut,
		Estimated:  res.resp.Estimated,
		Latency:    res.resp.Latency,
		Downgraded: downgraded,
		Attempts:   attempts,
	}
}

func (r *Router) fail(ctx context.Context, runID string, attempts []Attempt, cause error, downgraded bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		cause = err
	}
	r.stats.exhausted(downgraded)
	r.metrics.RecordExhausted()
	r.logger.Error("all tiers exhausted",
		zap.String("run_id", runID),
		zap.Int("attempts", len(attempts)),
		zap.Error(cause))
	return Result{Attempts: attempts, Downgraded: downgraded}, &RoutingFailure{RunID: runID, Attempts: attempts, Cause: cause}
}
