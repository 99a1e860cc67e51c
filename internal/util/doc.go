// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the router packages.
//
// # Key Functions
//
// Text:
//   - EstimateTokens: rough token count for a prompt or completion
//   - Truncate: rune-safe truncation with ellipsis, used for log lines
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	est := util.EstimateTokens(prompt)
//	logger.Debug("routing", zap.String("prompt", util.Truncate(prompt, 50)))
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
