// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the local Ollama server that
// backs the offline fallback tier.
//
// Only the non-streaming /api/chat endpoint is used. The client refuses
// non-loopback base URLs unless the caller opts in with AllowRemote, so an
// offline tier cannot quietly send prompts to a remote host.
//
// # Usage
//
//	client, err := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL:      "http://127.0.0.1:11434",
//	    DefaultModel: "llama3.1:8b",
//	})
//	resp, err := client.Chat(ctx, "", []ollama.Message{ollama.NewUserMessage("Hello")})
package ollama
