// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{
  "id": "chatcmpl-1",
  "model": "grok-3",
  "choices": [{"message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func newTestClient(url string) *Client {
	c := NewClient("test-key").WithBaseURL(url).WithModel("grok-3")
	c.retryBase = time.Millisecond
	return c
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "grok-3", req.Model)
		assert.False(t, req.Stream)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
		}

		w.Write([]byte(okBody))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL + "/").Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.GetContent())
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
}

func TestChat_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"code":"upstream","message":"bad gateway"}}`))
		default:
			w.Write([]byte(okBody))
		}
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.GetContent())
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).WithMaxRetries(2).Generate(context.Background(), "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed},
		{http.StatusForbidden, ``, ErrAuthFailed},
		{http.StatusPaymentRequired, ``, ErrInsufficientCredits},
		{http.StatusNotFound, `{"error":{"message":"no such model"}}`, ErrModelNotFound},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Generate(context.Background(), "hi")
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if calls.Load() != 1 {
				t.Errorf("non-retryable error attempted %d times", calls.Load())
			}
		})
	}
}

func TestChat_MalformedAndEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `<html>oops</html>`, ErrMalformedResponse},
		{"no choices", `{"id":"x","choices":[]}`, ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Generate(context.Background(), "hi")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestChat_NotConfigured(t *testing.T) {
	_, err := NewClient("").WithBaseURL("http://127.0.0.1:1").Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient("key").Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConfigured, "missing base URL")
}

func TestChat_Keyless(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	c := NewClient("").WithBaseURL(server.URL).WithModel("local").WithoutAuth()
	require.True(t, c.IsConfigured())

	resp, err := c.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.GetContent())
}

func TestChat_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).Generate(ctx, "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestCalculateBackoff(t *testing.T) {
	c := NewClient("k")
	assert.Equal(t, time.Second, c.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, c.calculateBackoff(2))
	assert.Equal(t, retryMaxDelay, c.calculateBackoff(10))
}
