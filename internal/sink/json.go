// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/util"
)

// JSONSink writes one indented JSON file per run into BaseDir.
type JSONSink struct {
	// BaseDir is the directory for run files.
	BaseDir string

	now func() time.Time
}

// NewJSONSink creates the directory if needed.
func NewJSONSink(baseDir string) (*JSONSink, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	return &JSONSink{BaseDir: baseDir, now: time.Now}, nil
}

// Persist implements Sink. The file is replaced atomically.
func (s *JSONSink) Persist(ctx context.Context, res agent.OrchestrationResult, usage ledger.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRunID(res.RunID); err != nil {
		return err
	}

	rec := NewRecord(res, usage, s.now())
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", res.RunID, err)
	}
	if err := util.AtomicWriteFile(s.filePath(res.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", res.RunID, err)
	}
	return nil
}

// Load reads the record of a run.
func (s *JSONSink) Load(ctx context.Context, runID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := validateRunID(runID); err != nil {
		return Record{}, err
	}

	data, err := os.ReadFile(s.filePath(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrRunNotFound
		}
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, nil
}

// List returns stored runs, most recent first. A limit of zero or less
// lists everything. Unreadable files are skipped.
func (s *JSONSink) List(ctx context.Context, limit int) ([]Meta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Meta{}, nil
		}
		return nil, err
	}

	metas := []Meta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.Load(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		metas = append(metas, rec.Meta())
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].SavedAt.After(metas[j].SavedAt)
	})
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

// Delete removes the record of a run.
func (s *JSONSink) Delete(runID string) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(runID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrRunNotFound
		}
		return err
	}
	return nil
}

func (s *JSONSink) filePath(runID string) string {
	return filepath.Join(s.BaseDir, runID+".json")
}
