// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package request defines the descriptor that accompanies every prompt sent
// through the tier router.
//
// A Descriptor is built once per outgoing request and is a plain value: all
// helpers use value receivers and return copies, so a descriptor handed to
// the router can never be changed underneath it.
package request

import (
	"fmt"
	"strings"

	"github.com/agourakis82/beagle-sub000/internal/util"
)

// Descriptor describes one outgoing LLM request for routing purposes.
type Descriptor struct {
	// OfflineRequired forces the local backend; no network call is made.
	OfflineRequired bool `json:"offline_required"`
	// RequiresMath marks requests with heavy quantitative content.
	RequiresMath bool `json:"requires_math"`
	// RequiresVision marks requests with image input.
	RequiresVision bool `json:"requires_vision"`
	// ApproximateTokens is the prompt size estimate (characters / 4).
	ApproximateTokens int `json:"approximate_tokens"`
	// RequiresHighQuality asks for careful output. It does not by itself
	// make the request eligible for escalation.
	RequiresHighQuality bool `json:"requires_high_quality"`
	// HighBiasRisk marks content where bias is a concern.
	HighBiasRisk bool `json:"high_bias_risk"`
	// RequiresExpertReasoning marks requests needing expert-level reasoning.
	RequiresExpertReasoning bool `json:"requires_expert_reasoning"`
	// CriticalSection marks a critical pipeline stage.
	CriticalSection bool `json:"critical_section"`
}

// WantsEscalation reports whether the request is eligible for the
// escalation tier. Any one of the three flags is sufficient and none of
// them outranks another.
func (d Descriptor) WantsEscalation() bool {
	return d.HighBiasRisk || d.RequiresExpertReasoning || d.CriticalSection
}

// ForPrompt returns a copy of tmpl sized for prompt.
func ForPrompt(prompt string, tmpl Descriptor) Descriptor {
	tmpl.ApproximateTokens = util.EstimateTokens(prompt)
	return tmpl
}

// WithCriticalSection returns a copy of d with CriticalSection set.
func (d Descriptor) WithCriticalSection() Descriptor {
	d.CriticalSection = true
	return d
}

// WithHighQuality returns a copy of d with RequiresHighQuality set.
func (d Descriptor) WithHighQuality() Descriptor {
	d.RequiresHighQuality = true
	return d
}

// WithOfflineRequired returns a copy of d with OfflineRequired set.
func (d Descriptor) WithOfflineRequired() Descriptor {
	d.OfflineRequired = true
	return d
}

// String returns a compact summary for logs, e.g.
// "tokens=120 flags=high_bias_risk,critical_section".
func (d Descriptor) String() string {
	var flags []string
	add := func(set bool, name string) {
		if set {
			flags = append(flags, name)
		}
	}
	add(d.OfflineRequired, "offline_required")
	add(d.RequiresMath, "requires_math")
	add(d.RequiresVision, "requires_vision")
	add(d.RequiresHighQuality, "requires_high_quality")
	add(d.HighBiasRisk, "high_bias_risk")
	add(d.RequiresExpertReasoning, "requires_expert_reasoning")
	add(d.CriticalSection, "critical_section")

	if len(flags) == 0 {
		return fmt.Sprintf("tokens=%d flags=none", d.ApproximateTokens)
	}
	return fmt.Sprintf("tokens=%d flags=%s", d.ApproximateTokens, strings.Join(flags, ","))
}
