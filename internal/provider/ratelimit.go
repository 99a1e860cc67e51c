// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited paces calls to the wrapped adapter with a token bucket.
// Waiting honours ctx; a wait cut short by a deadline is a Timeout.
type RateLimited struct {
	next    Adapter
	limiter *rate.Limiter
}

// NewRateLimited wraps next with rps requests per second and the given
// burst. A burst below one is raised to one.
func NewRateLimited(next Adapter, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Name implements Adapter.
func (r *RateLimited) Name() string { return r.next.Name() }

// Unwrap returns the paced adapter.
func (r *RateLimited) Unwrap() Adapter { return r.next }

// Send implements Adapter.
func (r *RateLimited) Send(ctx context.Context, prompt string) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Response{}, wrap(r.Name(), ctx.Err())
		}
		// Wait refuses up front when the deadline would pass first.
		if _, ok := ctx.Deadline(); ok {
			return Response{}, Failure(KindTimeout, r.Name(), "rate limit wait exceeds deadline", err)
		}
		return Response{}, Failure(KindUnavailable, r.Name(), "rate limit", err)
	}
	return r.next.Send(ctx, prompt)
}
