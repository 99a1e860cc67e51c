// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import "github.com/agourakis82/beagle-sub000/internal/request"

// Built-in agent names.
const (
	NameAnswer      = "answer"
	NameFactChecker = "fact_checker"
	NameQuality     = "quality"
	NameMethodology = "methodology"
	NameMath        = "math"
)

// DefaultBaseConfidence is the answer agent's confidence when the model
// reports no score.
const DefaultBaseConfidence = 0.78

const (
	answerInstruction = `Answer the query using the context provided. Be precise, cite the context where it supports a claim and say plainly when it does not. End with a line "Score: X.XX" giving your confidence between 0 and 1.`

	factCheckInstruction = `You are a fact checker. Review the answer below for claims that are unsupported, overstated or biased. List each problem with a short correction. End with a line "Score: X.XX" rating factual reliability between 0 and 1.`

	qualityInstruction = `You assess writing quality. Judge the answer for clarity, structure and completeness against the query. Give concrete improvements. End with a line "Score: X.XX" between 0 and 1.`

	methodologyInstruction = `You are a methodology reviewer. Check the reasoning in the answer: assumptions, inferential leaps, missing controls or alternative explanations. End with a line "Score: X.XX" rating soundness between 0 and 1.`

	mathInstruction = `You check quantitative content. Verify every number, unit and derivation in the answer and show corrected working where needed. End with a line "Score: X.XX" between 0 and 1.`
)

// NewAnswerAgent returns the base answer agent. Its template sets no flags,
// so it is served by the primary tier.
func NewAnswerAgent(r Router) *RoutedAgent {
	return &RoutedAgent{
		AgentName:         NameAnswer,
		Instruction:       answerInstruction,
		DefaultConfidence: DefaultBaseConfidence,
		Router:            r,
	}
}

// NewFactChecker flags its requests as high bias risk.
func NewFactChecker(r Router) *RoutedAgent {
	return &RoutedAgent{
		AgentName:         NameFactChecker,
		Instruction:       factCheckInstruction,
		Template:          request.Descriptor{HighBiasRisk: true},
		DefaultConfidence: 0.8,
		Router:            r,
	}
}

// NewQualityAssessor asks for high quality without escalation.
func NewQualityAssessor(r Router) *RoutedAgent {
	return &RoutedAgent{
		AgentName:         NameQuality,
		Instruction:       qualityInstruction,
		Template:          request.Descriptor{RequiresHighQuality: true},
		DefaultConfidence: 0.8,
		Router:            r,
	}
}

// NewMethodologyReviewer flags its requests as needing expert reasoning.
func NewMethodologyReviewer(r Router) *RoutedAgent {
	return &RoutedAgent{
		AgentName:         NameMethodology,
		Instruction:       methodologyInstruction,
		Template:          request.Descriptor{RequiresExpertReasoning: true},
		DefaultConfidence: 0.85,
		Router:            r,
	}
}

// NewMathChecker flags its requests as math.
func NewMathChecker(r Router) *RoutedAgent {
	return &RoutedAgent{
		AgentName:         NameMath,
		Instruction:       mathInstruction,
		Template:          request.Descriptor{RequiresMath: true},
		DefaultConfidence: 0.8,
		Router:            r,
	}
}

// DefaultSpecialists returns every built-in reviewer.
func DefaultSpecialists(r Router) []Agent {
	return []Agent{
		NewFactChecker(r),
		NewQualityAssessor(r),
		NewMethodologyReviewer(r),
		NewMathChecker(r),
	}
}

// SpecialistsByName picks built-in reviewers by name. Unknown names are
// returned in the second value.
func SpecialistsByName(r Router, names []string) ([]Agent, []string) {
	all := map[string]func(Router) *RoutedAgent{
		NameFactChecker: NewFactChecker,
		NameQuality:     NewQualityAssessor,
		NameMethodology: NewMethodologyReviewer,
		NameMath:        NewMathChecker,
	}
	var (
		out     []Agent
		unknown []string
	)
	for _, n := range names {
		if ctor, ok := all[n]; ok {
			out = append(out, ctor(r))
		} else {
			unknown = append(unknown, n)
		}
	}
	return out, unknown
}
