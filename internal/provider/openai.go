// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/cloud"
)

// OpenAI sends prompts to an OpenAI-compatible chat completions endpoint
// (xAI Grok, OpenRouter, vLLM).
type OpenAI struct {
	name   string
	client *cloud.Client
}

// NewOpenAI wraps a configured cloud client.
func NewOpenAI(name string, client *cloud.Client) *OpenAI {
	return &OpenAI{name: name, client: client}
}

// Name implements Adapter.
func (a *OpenAI) Name() string { return a.name }

// Send implements Adapter.
func (a *OpenAI) Send(ctx context.Context, prompt string) (Response, error) {
	start := time.Now()
	resp, err := a.client.Generate(ctx, prompt)
	if err != nil {
		return Response{}, a.classify(err)
	}

	text := resp.GetContent()
	if strings.TrimSpace(text) == "" {
		return Response{}, Failure(KindMalformedResponse, a.name, "", errEmpty)
	}

	out := Response{
		Text:      text,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		Model:     resp.Model,
		Latency:   time.Since(start),
	}
	if out.Model == "" {
		out.Model = a.client.Model()
	}
	fillUsage(prompt, &out)
	return out, nil
}

func (a *OpenAI) classify(err error) error {
	switch {
	case errors.Is(err, cloud.ErrMalformedResponse), errors.Is(err, cloud.ErrEmptyResponse):
		return Failure(KindMalformedResponse, a.name, "", err)
	case isTimeout(err):
		return Failure(KindTimeout, a.name, "", err)
	default:
		return Failure(KindUnavailable, a.name, "", err)
	}
}
