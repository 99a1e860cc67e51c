// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package review implements the sequential draft review:
//
//	critique -> rewrite -> adversarial review -> arbitration -> done
//
// Critique and rewrite ask for high quality and stay on the primary tier.
// Adversarial review and arbitration are critical sections, so the router
// may send them to the escalation tier when the run quota allows.
package review
