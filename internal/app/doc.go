// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app builds the router, ledger, coordinator, review pipeline,
// retrieval store and result sink from a config.Config and exposes the
// operations the CLI and HTTP server share.
package app
