// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"sync/atomic"
	"time"
)

// Mock is a deterministic adapter for tests and dry runs.
//
// With SendFn set, every call is delegated to it. Otherwise the mock waits
// Latency (returning early if ctx ends), fails with Fail when it is not
// KindNone, and answers Text with estimated token counts.
type Mock struct {
	ID      string
	Text    string
	Latency time.Duration
	Fail    FailureKind
	SendFn  func(ctx context.Context, prompt string) (Response, error)

	calls atomic.Int64
}

// NewMock returns a mock that always answers text.
func NewMock(id, text string) *Mock {
	return &Mock{ID: id, Text: text}
}

// NewFailingMock returns a mock that always fails with kind.
func NewFailingMock(id string, kind FailureKind) *Mock {
	return &Mock{ID: id, Fail: kind}
}

// Name implements Adapter.
func (m *Mock) Name() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

// Calls returns how many times Send was invoked.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

// Send implements Adapter.
func (m *Mock) Send(ctx context.Context, prompt string) (Response, error) {
	m.calls.Add(1)

	if m.SendFn != nil {
		return m.SendFn(ctx, prompt)
	}

	start := time.Now()
	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, wrap(m.Name(), ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Response{}, wrap(m.Name(), err)
	}

	if m.Fail != KindNone {
		return Response{}, Failure(m.Fail, m.Name(), "injected failure", nil)
	}

	resp := Response{Text: m.Text, Model: m.Name(), Latency: time.Since(start)}
	fillUsage(prompt, &resp)
	return resp, nil
}
