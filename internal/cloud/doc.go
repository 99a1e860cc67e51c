// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides a client for OpenAI-compatible chat completion APIs.
//
// xAI (Grok), OpenRouter and vLLM all expose POST {base}/chat/completions
// with the same request and response shape; this client speaks that
// protocol with retry on rate limiting and server errors.
//
// # Key Types
//
//   - Client: HTTP client with bearer auth, retry and response size limits
//   - ChatMessage: chat message in the OpenAI wire format
//   - ChatResponse: completion with token usage
//   - APIError: non-success response that maps to no sentinel
//
// # Usage
//
//	client := cloud.NewClient(apiKey).
//	    WithBaseURL("https://api.x.ai/v1").
//	    WithModel("grok-3")
//	resp, err := client.Generate(ctx, "Summarise this abstract")
//
// API keys are never logged.
package cloud
