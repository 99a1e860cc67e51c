// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/coordinator"
	"github.com/agourakis82/beagle-sub000/internal/review"
	"github.com/agourakis82/beagle-sub000/internal/router"
	"github.com/agourakis82/beagle-sub000/internal/sink"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	// ExitBackendError means no backend tier or agent produced an answer.
	ExitBackendError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, config.ErrConfiguration):
		return ExitConfigError
	case errors.Is(err, app.ErrInvalidRequest), errors.Is(err, review.ErrEmptyDraft):
		return ExitUsageError
	case errors.Is(err, sink.ErrRunNotFound), errors.Is(err, sink.ErrInvalidRunID):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.Is(err, router.ErrAllTiersExhausted), errors.Is(err, coordinator.ErrAllAgentsFailed):
		return ExitBackendError
	default:
		return ExitGeneralError
	}
}

// reportedError marks an error already written to stdout as a JSON
// envelope, so Execute does not print it a second time.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// =============================================================================
// JSON ENVELOPE
// =============================================================================

// JSONResponse is the envelope every command prints in --json mode.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response. data may carry a
// partial result.
func NewJSONErrorResponse(command string, err error, data any) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      data,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response as indented JSON.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// EMITTING
// =============================================================================

// emit prints data as a JSON envelope or through human.
func emit(cmd *cobra.Command, opts *Options, data any, human func(w io.Writer)) error {
	if opts.JSON {
		return NewJSONResponse(cmd.CommandPath(), data).Write(cmd.OutOrStdout())
	}
	human(cmd.OutOrStdout())
	return nil
}

// fail returns err. In --json mode the error is first printed as an
// envelope carrying partial, if any.
func fail(cmd *cobra.Command, opts *Options, err error, partial any) error {
	if !opts.JSON {
		return err
	}
	if werr := NewJSONErrorResponse(cmd.CommandPath(), err, partial).Write(cmd.OutOrStdout()); werr != nil {
		return errors.Join(err, werr)
	}
	return &reportedError{err: err}
}
