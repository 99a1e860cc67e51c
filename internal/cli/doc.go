// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the beagle command line.
//
// Commands:
//
//	beagle route [prompt]            route one prompt through the tiers
//	beagle orchestrate [query]       base answer plus specialist reviewers
//	beagle review [file]             sequential review pipeline over a draft
//	beagle usage <run-id>            per-tier usage and cost of a run
//	beagle runs list|show            persisted runs
//	beagle index [dir]               add corpus files to the retrieval store
//	beagle serve                     HTTP API
//	beagle config show|validate|profiles
//	beagle version
//
// Every command accepts --json and then prints a JSONResponse envelope on
// stdout, for success and failure alike. Exit codes are listed with
// ExitCode.
package cli
