// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/agourakis82/beagle-sub000/internal/logging"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidPath is returned when a corpus path is missing or not a directory.
var ErrInvalidPath = errors.New("invalid corpus path")

// =============================================================================
// STORE
// =============================================================================

const (
	// DefaultMaxSnippets is the number of snippets Retrieve returns when
	// the store was opened with a non-positive limit.
	DefaultMaxSnippets = 5

	// maxChunkRunes bounds one stored chunk.
	maxChunkRunes = 1200

	// maxFileSize skips files that are too large to be notes.
	maxFileSize = 4 * 1024 * 1024
)

// indexedExtensions are the corpus file types Store indexes.
var indexedExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// Indexable reports whether path has a corpus file extension.
func Indexable(path string) bool {
	return indexedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Store is a SQLite FTS5 snippet store. It is safe for concurrent use; the
// single database connection serializes access.
type Store struct {
	db          *sql.DB
	maxSnippets int
	logger      *zap.Logger
}

// Open opens or creates the store at path. ":memory:" gives a private
// in-memory store.
func Open(path string, maxSnippets int, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	if maxSnippets <= 0 {
		maxSnippets = DefaultMaxSnippets
	}
	return &Store{db: db, maxSnippets: maxSnippets, logger: logging.OrNop(logger)}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// INDEXING
// =============================================================================

// Add replaces every chunk stored for source with the chunks of text.
func (s *Store) Add(ctx context.Context, source, text string) (int, error) {
	return s.replace(ctx, source, text, time.Time{})
}

// IndexFile reads path and stores its chunks under the cleaned path.
func (s *Store) IndexFile(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() > maxFileSize {
		return 0, fmt.Errorf("%s: file exceeds %d bytes", path, maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return s.replace(ctx, filepath.Clean(path), string(data), info.ModTime())
}

// IndexDir indexes every corpus file under root. Hidden directories are
// skipped. It returns the number of files indexed.
func (s *Store) IndexDir(ctx context.Context, root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: not a directory", ErrInvalidPath)
	}

	files := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Indexable(path) {
			return nil
		}
		if _, err := s.IndexFile(ctx, path); err != nil {
			s.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
			return nil
		}
		files++
		return nil
	})
	if err != nil {
		return files, err
	}

	s.logger.Info("corpus indexed", zap.String("root", root), zap.Int("files", files))
	return files, nil
}

// Remove deletes every chunk stored for source. Files indexed with
// IndexFile are stored under their cleaned path.
func (s *Store) Remove(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE source = ?", source)
	return err
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

func (s *Store) replace(ctx context.Context, source, text string, modTime time.Time) (int, error) {
	chunks := Chunk(text, maxChunkRunes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE source = ?", source); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (source, chunk, body, mod_time, indexed_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var mod int64
	if !modTime.IsZero() {
		mod = modTime.Unix()
	}
	now := time.Now().Unix()
	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, source, i, c, mod, now); err != nil {
			return 0, fmt.Errorf("failed to insert chunk %d of %s: %w", i, source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Retrieve implements Retriever. Results are ordered by bm25 rank and
// capped at the store's snippet limit.
func (s *Store) Retrieve(ctx context.Context, query string) ([]string, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.body
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, s.maxSnippets)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// buildMatchQuery turns free text into an FTS5 query: every distinct term
// is quoted, so FTS5 operators in user input are inert, and terms are
// OR-ed so partial matches still rank.
func buildMatchQuery(query string) string {
	terms := termPattern.FindAllString(strings.ToLower(query), -1)
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if len([]rune(t)) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// =============================================================================
// CHUNKING
// =============================================================================

// Chunk splits text on blank lines and packs paragraphs into chunks of at
// most maxRunes runes. A single paragraph longer than maxRunes is split on
// rune boundaries.
func Chunk(text string, maxRunes int) []string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		runes := []rune(p)
		for len(runes) > maxRunes {
			flush()
			chunks = append(chunks, string(runes[:maxRunes]))
			runes = runes[maxRunes:]
		}
		if curLen > 0 && curLen+2+len(runes) > maxRunes {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(string(runes))
		curLen += len(runes)
	}
	flush()
	return chunks
}
