// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"fmt"

	"github.com/agourakis82/beagle-sub000/internal/request"
	"github.com/agourakis82/beagle-sub000/internal/router"
)

// Router is the routing surface an agent needs. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, runID, prompt string, desc request.Descriptor) (router.Result, error)
}

// RoutedAgent sends its task through the tier router. Each call builds a
// fresh descriptor from Template sized to the rendered prompt.
type RoutedAgent struct {
	AgentName   string
	Instruction string
	Template    request.Descriptor

	// DefaultConfidence is used when the answer carries no score.
	DefaultConfidence float64

	Router Router
}

// Name implements Agent.
func (a *RoutedAgent) Name() string { return a.AgentName }

// Run implements Agent.
func (a *RoutedAgent) Run(ctx context.Context, runID string, task Task) (Result, error) {
	if a.Instruction != "" {
		task.Instruction = a.Instruction
	}
	prompt := task.Prompt()
	desc := request.ForPrompt(prompt, a.Template)

	res, err := a.Router.Route(ctx, runID, prompt, desc)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: %w", a.AgentName, err)
	}

	confidence, ok := ExtractScore(res.Text)
	if !ok {
		confidence = a.DefaultConfidence
	}
	return Result{
		Agent:      a.AgentName,
		Text:       res.Text,
		Tier:       res.Tier,
		Confidence: confidence,
		TokensIn:   res.TokensIn,
		TokensOut:  res.TokensOut,
		Downgraded: res.Downgraded,
	}, nil
}
