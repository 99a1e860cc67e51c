// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API.
//
// Endpoints:
//   - GET  /health                   - Liveness and day counter state
//   - GET  /metrics                  - Prometheus metrics
//   - GET  /v1/stats                 - Router statistics
//   - GET  /v1/runs/{run_id}/usage   - Usage and cost of one run
//   - POST /v1/route                 - Route a single prompt
//   - POST /v1/orchestrate           - Base answer plus specialist review
//   - POST /v1/review                - Critique, rewrite, adversarial review, arbitration
//
// Middleware, outermost first: panic recovery, security headers, request
// logging, per-client rate limiting, bearer token authentication.
package server
