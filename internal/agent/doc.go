// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent defines the Agent contract and the built-in agents that
// generate through the tier router.
//
// A RoutedAgent owns a descriptor template. Every call copies it with the
// token estimate of the rendered prompt, so descriptors are never shared or
// mutated between calls.
package agent
