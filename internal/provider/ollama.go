// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/ollama"
)

// Ollama sends prompts to a local Ollama server.
type Ollama struct {
	name   string
	model  string
	client *ollama.Client
}

// NewOllama wraps an Ollama client. An empty model uses the client default.
func NewOllama(name, model string, client *ollama.Client) *Ollama {
	return &Ollama{name: name, model: model, client: client}
}

// Name implements Adapter.
func (a *Ollama) Name() string { return a.name }

// Send implements Adapter.
func (a *Ollama) Send(ctx context.Context, prompt string) (Response, error) {
	start := time.Now()
	resp, err := a.client.Chat(ctx, a.model, []ollama.Message{ollama.NewUserMessage(prompt)})
	if err != nil {
		switch {
		case ollama.IsTimeout(err):
			return Response{}, Failure(KindTimeout, a.name, "", err)
		case ollama.IsInvalidResponse(err):
			return Response{}, Failure(KindMalformedResponse, a.name, "", err)
		default:
			return Response{}, Failure(KindUnavailable, a.name, "", err)
		}
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return Response{}, Failure(KindMalformedResponse, a.name, "", errEmpty)
	}

	out := Response{
		Text:      resp.Message.Content,
		TokensIn:  resp.PromptEvalCount,
		TokensOut: resp.EvalCount,
		Model:     resp.Model,
		Latency:   time.Since(start),
	}
	fillUsage(prompt, &out)
	return out, nil
}
