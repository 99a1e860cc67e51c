// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
)

// =============================================================================
// INTERFACE
// =============================================================================

// Sink persists completed runs. Persist is called once per run; persisting
// the same run id again replaces the earlier record.
type Sink interface {
	Persist(ctx context.Context, res agent.OrchestrationResult, usage ledger.Snapshot) error
}

// Reader is implemented by sinks that can read records back.
type Reader interface {
	Load(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context, limit int) ([]Meta, error)
}

// =============================================================================
// RECORD
// =============================================================================

// Record is what a sink stores for one run.
type Record struct {
	RunID   string                    `json:"run_id"`
	Result  agent.OrchestrationResult `json:"result"`
	Usage   telemetry.UsageReport     `json:"usage"`
	SavedAt time.Time                 `json:"saved_at"`
}

// Meta is the listing view of a record.
type Meta struct {
	RunID      string    `json:"run_id"`
	Query      string    `json:"query"`
	Confidence float64   `json:"confidence"`
	TotalCalls int       `json:"total_calls"`
	CostCents  float64   `json:"cost_cents"`
	SavedAt    time.Time `json:"saved_at"`
}

// NewRecord builds the record of a run. The run id of the result wins over
// the snapshot's.
func NewRecord(res agent.OrchestrationResult, usage ledger.Snapshot, now time.Time) Record {
	report := telemetry.Summarize(usage)
	report.RunID = res.RunID
	return Record{
		RunID:   res.RunID,
		Result:  res,
		Usage:   report,
		SavedAt: now.UTC(),
	}
}

// Meta returns the listing view of r.
func (r Record) Meta() Meta {
	return Meta{
		RunID:      r.RunID,
		Query:      r.Result.Query,
		Confidence: r.Result.Confidence,
		TotalCalls: r.Usage.TotalCalls,
		CostCents:  r.Usage.TotalCents,
		SavedAt:    r.SavedAt,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRunNotFound is returned by Load for an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRunID is returned for empty run ids or ids that are not
	// safe as file names.
	ErrInvalidRunID = errors.New("invalid run id")
)

func validateRunID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return nil
}

// =============================================================================
// NOP
// =============================================================================

// Nop discards every run.
type Nop struct{}

// Persist implements Sink.
func (Nop) Persist(context.Context, agent.OrchestrationResult, ledger.Snapshot) error { return nil }
