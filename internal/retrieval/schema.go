// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

// SchemaVersion tracks the database schema version for migrations.
const SchemaVersion = 1

// Schema is the SQLite schema of the snippet store. documents holds chunked
// corpus text; documents_fts is an external-content FTS5 index kept in
// sync by triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    chunk INTEGER NOT NULL,
    body TEXT NOT NULL,
    mod_time INTEGER NOT NULL DEFAULT 0, -- Unix timestamp of the source file
    indexed_at INTEGER NOT NULL,         -- Unix timestamp
    UNIQUE(source, chunk)
);

CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    source,
    body,
    content='documents',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, source, body)
    VALUES (new.id, new.source, new.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, source, body)
    VALUES ('delete', old.id, old.source, old.body);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, source, body)
    VALUES ('delete', old.id, old.source, old.body);
    INSERT INTO documents_fts(rowid, source, body)
    VALUES (new.id, new.source, new.body);
END;
`

// InitMetadata initializes the metadata table with default values.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
