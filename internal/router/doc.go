// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router routes generation requests across provider tiers under a
// run quota.
//
// Tiers are tried in a fixed chain:
//
//	Escalation (if wanted and reserved) -> Primary -> OfflineFallback
//
// A request that needs offline handling goes straight to OfflineFallback.
// Escalation is the only quota-bounded tier: the router reserves a slot in
// the ledger before calling it and downgrades silently when the ledger
// refuses. A reservation is never refunded, even when the call fails.
//
// # Usage
//
//	r, err := router.New(router.Options{
//	    Ledger:   ledger.New(policy),
//	    Adapters: router.Adapters{Primary: grok, Escalation: heavy, OfflineFallback: local},
//	})
//	res, err := r.Route(ctx, runID, prompt, request.ForPrompt(prompt, tmpl))
//	if errors.Is(err, router.ErrAllTiersExhausted) {
//	    // nothing answered
//	}
package router
