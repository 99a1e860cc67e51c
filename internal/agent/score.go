// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"regexp"
	"strconv"
	"strings"
)

var scorePattern = regexp.MustCompile(`score[:\s]+([0-9]+\.[0-9]+)`)

// ExtractScore finds the first "score: 0.87" style value in text and clamps
// it to [0, 1]. Matching is case-insensitive.
func ExtractScore(text string) (float64, bool) {
	m := scorePattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return clamp01(v), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
