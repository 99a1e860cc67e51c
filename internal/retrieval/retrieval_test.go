// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snippets.db"), max, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatic(t *testing.T) {
	s := NewStatic("a", "b")
	got, err := s.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got[0] = "mutated"
	again, _ := s.Retrieve(context.Background(), "x")
	assert.Equal(t, "a", again[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Retrieve(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildMatchQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"a", ""},
		{"Heart rate", `"heart" OR "rate"`},
		{`rate" OR name:* (x) -rate`, `"rate" OR "or" OR "name"`},
		{"naïve Bayes", `"naïve" OR "bayes"`},
	}
	for _, tt := range tests {
		if got := buildMatchQuery(tt.in); got != tt.want {
			t.Errorf("buildMatchQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunk(t *testing.T) {
	text := "first para\n\nsecond para\r\n\r\n\n\nthird"
	assert.Equal(t, []string{"first para\n\nsecond para\n\nthird"}, Chunk(text, 100))
	assert.Equal(t, []string{"first para", "second para", "third"}, Chunk(text, 12))

	long := strings.Repeat("x", 25)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, Chunk(long, 10))
	assert.Empty(t, Chunk("  \n\n ", 10))
}

func TestStore_AddAndRetrieve(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	_, err := s.Add(ctx, "hrv", "Heart rate variability falls under chronic stress.")
	require.NoError(t, err)
	_, err = s.Add(ctx, "sleep", "Sleep deprivation raises resting heart rate.")
	require.NoError(t, err)
	_, err = s.Add(ctx, "diet", "Fibre intake and the gut microbiome.")
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, "heart rate variability")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "variability", "best match first")

	none, err := s.Retrieve(ctx, "quantum chromodynamics")
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := s.Retrieve(ctx, "?")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestStore_ReplaceAndRemove(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()

	_, err := s.Add(ctx, "note", "old content about mitochondria")
	require.NoError(t, err)
	_, err = s.Add(ctx, "note", "new content about ribosomes")
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := s.Retrieve(ctx, "mitochondria")
	require.NoError(t, err)
	assert.Empty(t, old)

	require.NoError(t, s.Remove(ctx, "note"))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	gone, err := s.Retrieve(ctx, "ribosomes")
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestStore_IndexDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("# Notes\n\nbeagle routing quota"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package quota"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c.txt"), []byte("quota ledger"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "d.md"), []byte("quota"), 0o644))

	s := openTestStore(t, 10)
	files, err := s.IndexDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, files)

	got, err := s.Retrieve(context.Background(), "quota")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = s.IndexDir(context.Background(), filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:", 0, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add(context.Background(), "x", "in memory snippet")
	require.NoError(t, err)
	got, err := s.Retrieve(context.Background(), "snippet")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWatcher_ReindexesChangedFiles(t *testing.T) {
	root := t.TempDir()
	s := openTestStore(t, 5)

	w, err := NewWatcher(s, root, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	path := filepath.Join(root, "fresh.md")
	require.NoError(t, os.WriteFile(path, []byte("telomere length findings"), 0o644))

	assert.Eventually(t, func() bool {
		got, err := s.Retrieve(context.Background(), "telomere")
		return err == nil && len(got) == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		got, err := s.Retrieve(context.Background(), "telomere")
		return err == nil && len(got) == 0
	}, 3*time.Second, 20*time.Millisecond)
}
