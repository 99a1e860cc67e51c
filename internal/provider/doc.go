// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider adapts concrete LLM backends to one Adapter interface.
//
// Every adapter returns a *BackendFailure on error, classified as
// Unavailable, Timeout or MalformedResponse. When a backend reports no token
// usage the counts are estimated from text length and Response.Estimated is
// set.
//
// # Adapters
//
//   - OpenAI: OpenAI-compatible chat completions (Grok, OpenRouter, vLLM)
//   - Ollama: local Ollama server
//   - Bedrock: AWS Bedrock, Anthropic message format
//   - Mock: deterministic responses and injected failures
//   - RateLimited: token-bucket pacing around any adapter
package provider
