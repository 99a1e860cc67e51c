// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sink persists completed runs together with their usage report.
//
// JSONSink writes one file per run; SQLSink keeps a beagle_runs table in
// SQLite or PostgreSQL. Both replace the record when a run id is persisted
// again.
package sink
