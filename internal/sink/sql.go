// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
)

// =============================================================================
// DIALECTS
// =============================================================================

// Dialect selects SQL syntax differences between the supported databases.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() string {
	if d == DialectPostgres {
		return `
CREATE TABLE IF NOT EXISTS beagle_runs (
	run_id      TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	total_calls INTEGER NOT NULL,
	cost_cents  DOUBLE PRECISION NOT NULL,
	record      JSONB NOT NULL,
	saved_at    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_beagle_runs_saved_at ON beagle_runs(saved_at);`
	}
	return `
CREATE TABLE IF NOT EXISTS beagle_runs (
	run_id      TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	total_calls INTEGER NOT NULL,
	cost_cents  REAL NOT NULL,
	record      TEXT NOT NULL,
	saved_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_beagle_runs_saved_at ON beagle_runs(saved_at);`
}

const upsertRun = `
INSERT INTO beagle_runs (run_id, query, confidence, total_calls, cost_cents, record, saved_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	query = EXCLUDED.query,
	confidence = EXCLUDED.confidence,
	total_calls = EXCLUDED.total_calls,
	cost_cents = EXCLUDED.cost_cents,
	record = EXCLUDED.record,
	saved_at = EXCLUDED.saved_at`

const selectRecord = `SELECT record FROM beagle_runs WHERE run_id = ?`

const listRuns = `
SELECT run_id, query, confidence, total_calls, cost_cents, saved_at
FROM beagle_runs
ORDER BY saved_at DESC
LIMIT ?`

// =============================================================================
// SQL SINK
// =============================================================================

// SQLSink stores runs in a beagle_runs table, one row per run id. The
// full record is kept as JSON next to a few columns for listing.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLSink wraps an open database. Call Migrate before first use.
func NewSQLSink(db *sql.DB, dialect Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect, now: time.Now}
}

// OpenSQLite opens or creates a SQLite sink at path.
func OpenSQLite(ctx context.Context, path string) (*SQLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}
	s := NewSQLSink(db, DialectSQLite)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL with dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewSQLSink(db, DialectPostgres)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table if it does not exist.
func (s *SQLSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return fmt.Errorf("failed to initialize %s schema: %w", s.dialect, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// Persist implements Sink with an upsert on run_id.
func (s *SQLSink) Persist(ctx context.Context, res agent.OrchestrationResult, usage ledger.Snapshot) error {
	if res.RunID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRunID)
	}
	rec := NewRecord(res, usage, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", res.RunID, err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(upsertRun),
		rec.RunID,
		rec.Result.Query,
		rec.Result.Confidence,
		rec.Usage.TotalCalls,
		rec.Usage.TotalCents,
		string(data),
		rec.SavedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", res.RunID, err)
	}
	return nil
}

// Load reads the record of a run.
func (s *SQLSink) Load(ctx context.Context, runID string) (Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(selectRecord), runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrRunNotFound
		}
		return Record{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, nil
}

// List returns stored runs, most recent first. A limit of zero or less
// lists everything.
func (s *SQLSink) List(ctx context.Context, limit int) ([]Meta, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(listRuns), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	metas := []Meta{}
	for rows.Next() {
		var m Meta
		var savedAt int64
		if err := rows.Scan(&m.RunID, &m.Query, &m.Confidence, &m.TotalCalls, &m.CostCents, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		m.SavedAt = time.UnixMilli(savedAt).UTC()
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
