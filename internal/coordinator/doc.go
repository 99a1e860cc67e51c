// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coordinator fans a query out to specialist agents and aggregates
// their reviews into one result.
//
// Specialists run concurrently, each bounded by its own timeout. Aggregation
// waits for every unit to settle; failed and timed-out specialists are
// excluded and each lowers the final confidence by a fixed penalty.
package coordinator
