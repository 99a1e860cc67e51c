// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// =============================================================================
// HELPERS
// =============================================================================

func sampleResult(runID string) agent.OrchestrationResult {
	return agent.OrchestrationResult{
		RunID:      runID,
		Query:      "what is entropy?",
		Answer:     "a measure of disorder",
		Confidence: 0.7,
		Base:       agent.Result{Agent: "answer", Text: "a measure of disorder", Tier: tier.Primary, TokensIn: 100, TokensOut: 50},
		Specialists: []agent.Result{
			{Agent: "fact_checker", Text: "ok", Tier: tier.Escalation, Confidence: 0.8, TokensIn: 200, TokensOut: 20},
		},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleSnapshot(runID string) ledger.Snapshot {
	return ledger.Snapshot{
		RunID: runID,
		Tiers: map[tier.Tier]ledger.Counters{
			tier.Primary:    {Calls: 1, TokensIn: 100, TokensOut: 50},
			tier.Escalation: {Calls: 1, ReservedTokens: 200, TokensIn: 200, TokensOut: 20},
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =============================================================================
// RECORD TESTS
// =============================================================================

func TestNewRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	rec := NewRecord(sampleResult("run-1"), sampleSnapshot("other"), now)

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "run-1", rec.Usage.RunID)
	assert.Equal(t, 2, rec.Usage.TotalCalls)
	assert.Equal(t, 300, rec.Usage.Tokens.Input)
	assert.Equal(t, time.UTC, rec.SavedAt.Location())

	meta := rec.Meta()
	assert.Equal(t, "what is entropy?", meta.Query)
	assert.Equal(t, 2, meta.TotalCalls)
	assert.InDelta(t, rec.Usage.TotalCents, meta.CostCents, 1e-9)
}

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"run-1", true},
		{"4b7c9d1e-0000-4000-8000-000000000000", true},
		{"", false},
		{"..", false},
		{"../etc/passwd", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		err := validateRunID(tt.id)
		if tt.valid && err != nil {
			t.Errorf("validateRunID(%q) = %v, want nil", tt.id, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("validateRunID(%q) = %v, want ErrInvalidRunID", tt.id, err)
		}
	}
}

// =============================================================================
// JSON SINK TESTS
// =============================================================================

func TestJSONSink_PersistAndLoad(t *testing.T) {
	s, err := NewJSONSink(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, sampleResult("run-1"), sampleSnapshot("run-1")))
	_, err = os.Stat(filepath.Join(s.BaseDir, "run-1.json"))
	require.NoError(t, err)

	rec, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "a measure of disorder", rec.Result.Answer)
	assert.Equal(t, tier.Escalation, rec.Result.Specialists[0].Tier)
	assert.Equal(t, 2, rec.Usage.TotalCalls)
}

func TestJSONSink_PersistReplaces(t *testing.T) {
	s, err := NewJSONSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := sampleResult("run-1")
	require.NoError(t, s.Persist(ctx, first, sampleSnapshot("run-1")))
	second := first
	second.Answer = "updated"
	require.NoError(t, s.Persist(ctx, second, sampleSnapshot("run-1")))

	rec, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "updated", rec.Result.Answer)

	metas, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestJSONSink_Errors(t *testing.T) {
	s, err := NewJSONSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.Persist(ctx, sampleResult("../escape"), ledger.Snapshot{})
	assert.ErrorIs(t, err, ErrInvalidRunID)

	assert.ErrorIs(t, s.Delete("missing"), ErrRunNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Persist(cancelled, sampleResult("run-1"), ledger.Snapshot{}), context.Canceled)
}

func TestJSONSink_ListNewestFirst(t *testing.T) {
	s, err := NewJSONSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.now = fixedClock(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, s.Persist(ctx, sampleResult(id), ledger.Snapshot{}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir, "junk.json"), []byte("{not json"), 0o644))

	metas, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "c", metas[0].RunID)
	assert.Equal(t, "b", metas[1].RunID)

	require.NoError(t, s.Delete("c"))
	metas, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

// =============================================================================
// SQL SINK TESTS
// =============================================================================

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", DialectPostgres.rebind(q))
}

func TestSQLiteSink_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "sub", "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base)
	require.NoError(t, s.Persist(ctx, sampleResult("run-1"), sampleSnapshot("run-1")))
	s.now = fixedClock(base.Add(time.Minute))
	require.NoError(t, s.Persist(ctx, sampleResult("run-2"), ledger.Snapshot{}))

	updated := sampleResult("run-1")
	updated.Confidence = 0.95
	s.now = fixedClock(base.Add(2 * time.Minute))
	require.NoError(t, s.Persist(ctx, updated, sampleSnapshot("run-1")))

	rec, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, rec.Result.Confidence, 1e-9)
	assert.Equal(t, 2, rec.Usage.TotalCalls)

	metas, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "run-1", metas[0].RunID)
	assert.Equal(t, base.Add(2*time.Minute), metas[0].SavedAt)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPostgresSink_Persist(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLSink(db, DialectPostgres)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(now)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO beagle_runs")).
		WithArgs("run-1", "what is entropy?", 0.7, 2, sqlmock.AnyArg(), sqlmock.AnyArg(), now.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Persist(context.Background(), sampleResult("run-1"), sampleSnapshot("run-1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_PersistError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO beagle_runs")).
		WillReturnError(errors.New("connection reset"))

	s := NewSQLSink(db, DialectPostgres)
	err = s.Persist(context.Background(), sampleResult("run-1"), ledger.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLSink(db, DialectPostgres)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT record FROM beagle_runs WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).
			AddRow([]byte(`{"run_id":"run-1","result":{"run_id":"run-1","answer":"42","base":{"tier":"escalation"}},"usage":{"run_id":"run-1","total_calls":3}}`)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT record FROM beagle_runs WHERE run_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"record"}))

	rec, err := s.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "42", rec.Result.Answer)
	assert.Equal(t, tier.Escalation, rec.Result.Base.Tier)
	assert.Equal(t, 3, rec.Usage.TotalCalls)

	_, err = s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLSink(db, DialectPostgres)
	saved := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY saved_at DESC")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "query", "confidence", "total_calls", "cost_cents", "saved_at"}).
			AddRow("run-2", "q2", 0.8, 4, 1.5, saved.UnixMilli()).
			AddRow("run-1", "q1", 0.6, 2, 0.5, saved.Add(-time.Hour).UnixMilli()))

	metas, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "run-2", metas[0].RunID)
	assert.Equal(t, saved, metas[0].SavedAt)
	assert.Equal(t, 4, metas[0].TotalCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// OPEN TESTS
// =============================================================================

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, config.SinkConfig{Kind: config.SinkNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = Open(ctx, config.SinkConfig{Kind: config.SinkJSON, Path: filepath.Join(dir, "runs")})
	require.NoError(t, err)
	assert.IsType(t, &JSONSink{}, s)

	s, err = Open(ctx, config.SinkConfig{Kind: config.SinkSQLite, Path: filepath.Join(dir, "runs.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLSink{}, s)
	s.(*SQLSink).Close()

	_, err = Open(ctx, config.SinkConfig{Kind: "s3"})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
