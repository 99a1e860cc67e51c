// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval supplies context snippets to the coordinator.
//
// Store keeps chunked Markdown and text notes in SQLite with an FTS5 index
// and ranks matches with bm25. Watcher re-indexes a corpus directory as
// files change.
//
// # Usage
//
//	store, err := retrieval.Open(filepath.Join(dataDir, "snippets.db"), 5, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	if _, err := store.IndexDir(ctx, corpusDir); err != nil {
//	    return err
//	}
//	snippets, err := store.Retrieve(ctx, "heart rate variability")
package retrieval
