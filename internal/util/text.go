// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "unicode/utf8"

// CharsPerToken is the approximation used when a backend does not report
// token counts. One token is taken to be four characters.
const CharsPerToken = 4

// EstimateTokens returns the approximate token count of text, counting
// characters (runes), not bytes. Empty text is zero tokens.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// Truncate shortens s to at most maxRunes characters, appending "..." when
// anything was cut. Multi-byte characters are never split.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
