// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	bedrockAnthropicVersion = "bedrock-2023-05-31"
	bedrockDefaultMaxTokens = 4096
)

// BedrockInvoker is the slice of the Bedrock runtime client the adapter
// uses. *bedrockruntime.Client satisfies it.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock invokes Anthropic models on AWS Bedrock with SigV4 credentials
// from the default AWS chain.
type Bedrock struct {
	name      string
	model     string
	maxTokens int
	timeout   time.Duration
	client    BedrockInvoker
}

// NewBedrock loads AWS configuration for region and returns an adapter.
func NewBedrock(ctx context.Context, name, region, model string, maxTokens int, timeout time.Duration) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewBedrockWithClient(name, bedrockruntime.NewFromConfig(cfg), model, maxTokens, timeout), nil
}

// NewBedrockWithClient builds an adapter around an existing invoker.
func NewBedrockWithClient(name string, client BedrockInvoker, model string, maxTokens int, timeout time.Duration) *Bedrock {
	if maxTokens <= 0 {
		maxTokens = bedrockDefaultMaxTokens
	}
	return &Bedrock{name: name, model: model, maxTokens: maxTokens, timeout: timeout, client: client}
}

// Name implements Adapter.
func (a *Bedrock) Name() string { return a.name }

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Send implements Adapter.
func (a *Bedrock) Send(ctx context.Context, prompt string) (Response, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        a.maxTokens,
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Response{}, Failure(KindUnavailable, a.name, "marshal request", err)
	}

	start := time.Now()
	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return Response{}, wrap(a.name, err)
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return Response{}, Failure(KindMalformedResponse, a.name, "decode response", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, Failure(KindMalformedResponse, a.name, "", errEmpty)
	}

	out := Response{
		Text:      text.String(),
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
		Model:     a.model,
		Latency:   time.Since(start),
	}
	fillUsage(prompt, &out)
	return out, nil
}
