// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics and cost estimates for
// routed runs.
//
// # Key Types
//
//   - Metrics: collectors for routing, quota and coordination events
//   - UsageReport: per-tier token and cost summary of a ledger snapshot
//
// All Metrics methods accept a nil receiver, so components can be built
// without metrics in tests.
//
// # Usage
//
//	m := telemetry.NewMetrics()
//	http.Handle("/metrics", m.Handler())
//
//	report := telemetry.Summarize(ledger.Snapshot(runID))
//	fmt.Printf("run cost: %.2f cents\n", report.TotalCents)
package telemetry
