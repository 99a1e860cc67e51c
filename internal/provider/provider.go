// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/util"
)

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter sends one prompt to one backend. Implementations must be safe for
// concurrent use; the router calls them from many goroutines.
type Adapter interface {
	Name() string
	Send(ctx context.Context, prompt string) (Response, error)
}

// Response is a completed backend call.
type Response struct {
	Text      string        `json:"text"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Estimated bool          `json:"estimated,omitempty"` // counts derived from text length
	Model     string        `json:"model,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// fillUsage estimates token counts when the backend reported none.
// One token is taken to be four characters.
func fillUsage(prompt string, r *Response) {
	if r.TokensIn > 0 || r.TokensOut > 0 {
		return
	}
	r.TokensIn = util.EstimateTokens(prompt)
	r.TokensOut = util.EstimateTokens(r.Text)
	r.Estimated = true
}

// =============================================================================
// FAILURES
// =============================================================================

// FailureKind classifies backend failures.
type FailureKind int

const (
	// KindNone is the zero value; it never appears on a returned error.
	KindNone FailureKind = iota
	KindUnavailable
	KindTimeout
	KindMalformedResponse
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// BackendFailure is the error every adapter returns.
type BackendFailure struct {
	Kind    FailureKind
	Backend string
	Message string
	Cause   error
}

func (e *BackendFailure) Error() string {
	msg := "backend"
	if e.Backend != "" {
		msg += " " + e.Backend
	}
	msg += " " + e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BackendFailure) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels, so errors.Is(err, ErrTimeout) holds for
// any timeout from any backend.
func (e *BackendFailure) Is(target error) bool {
	t, ok := target.(*BackendFailure)
	return ok && t.Backend == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrUnavailable       = &BackendFailure{Kind: KindUnavailable}
	ErrTimeout           = &BackendFailure{Kind: KindTimeout}
	ErrMalformedResponse = &BackendFailure{Kind: KindMalformedResponse}
)

// errEmpty is the cause attached to empty completions.
var errEmpty = errors.New("empty completion")

// Failure builds a BackendFailure.
func Failure(kind FailureKind, backend, message string, cause error) *BackendFailure {
	return &BackendFailure{Kind: kind, Backend: backend, Message: message, Cause: cause}
}

// KindOf classifies err. A BackendFailure keeps its kind, deadline and
// network timeouts are Timeout, and anything else is Unavailable.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	var bf *BackendFailure
	if errors.As(err, &bf) {
		return bf.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnavailable
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// wrap converts an arbitrary transport error into a BackendFailure. A
// BackendFailure passes through untouched.
func wrap(backend string, err error) error {
	var bf *BackendFailure
	if errors.As(err, &bf) {
		return err
	}
	return Failure(KindOf(err), backend, "", err)
}
