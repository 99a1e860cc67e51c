// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import (
	"fmt"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/request"
)

// Stage is a step of the review state machine.
type Stage int

const (
	StageCritique Stage = iota
	StageRewrite
	StageAdversarialReview
	StageArbitration
	StageDone
)

// Stages returns the working stages in order.
func Stages() []Stage {
	return []Stage{StageCritique, StageRewrite, StageAdversarialReview, StageArbitration}
}

func (s Stage) String() string {
	switch s {
	case StageCritique:
		return "critique"
	case StageRewrite:
		return "rewrite"
	case StageAdversarialReview:
		return "adversarial_review"
	case StageArbitration:
		return "arbitration"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Next returns the following stage. Done is terminal.
func (s Stage) Next() Stage {
	if s >= StageArbitration {
		return StageDone
	}
	return s + 1
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Agent returns the reviewer name of the stage.
func (s Stage) Agent() string {
	switch s {
	case StageCritique:
		return "critic"
	case StageRewrite:
		return "rewriter"
	case StageAdversarialReview:
		return "adversary"
	case StageArbitration:
		return "arbiter"
	default:
		return ""
	}
}

// DefaultScore is the stage's score when the answer carries none.
func (s Stage) DefaultScore() float64 {
	switch s {
	case StageCritique:
		return 0.8
	case StageRewrite:
		return 0.85
	case StageAdversarialReview, StageArbitration:
		return 0.9
	default:
		return 0
	}
}

// Template is the routing descriptor of a stage without a size estimate.
// Critique and rewrite ask for high quality only, so they stay on the
// primary tier. Adversarial review and arbitration are critical sections and
// may escalate.
func (s Stage) Template() request.Descriptor {
	switch s {
	case StageAdversarialReview, StageArbitration:
		return request.Descriptor{}.WithCriticalSection()
	default:
		return request.Descriptor{}.WithHighQuality()
	}
}

// DescriptorFor returns the routing descriptor of a stage prompt.
func DescriptorFor(s Stage, prompt string) request.Descriptor {
	return request.ForPrompt(prompt, s.Template())
}

// NewStageAgent returns the reviewer of a stage. Its confidence is the
// score in the answer, or the stage default.
func NewStageAgent(s Stage, r agent.Router) *agent.RoutedAgent {
	return &agent.RoutedAgent{
		AgentName:         s.Agent(),
		Template:          s.Template(),
		DefaultConfidence: s.DefaultScore(),
		Router:            r,
	}
}
