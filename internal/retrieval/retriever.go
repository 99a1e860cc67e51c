// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import "context"

// Retriever returns context snippets for a query. Ranking quality is the
// implementation's business; callers only rely on the order being best
// first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Static always returns the same snippets. It is used for tests and for
// runs where the caller supplies context directly.
type Static struct {
	Snippets []string
}

// NewStatic returns a Static retriever.
func NewStatic(snippets ...string) *Static {
	return &Static{Snippets: snippets}
}

// Retrieve implements Retriever.
func (s *Static) Retrieve(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.Snippets...), nil
}
