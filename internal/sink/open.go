// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/agourakis82/beagle-sub000/internal/config"
)

// Open builds the sink named by cfg. Empty paths default to runs and
// runs.db under config.DataDir.
func Open(ctx context.Context, cfg config.SinkConfig) (Sink, error) {
	switch cfg.Kind {
	case config.SinkNone:
		return Nop{}, nil
	case config.SinkJSON, "":
		path, err := defaultPath(cfg.Path, "runs")
		if err != nil {
			return nil, err
		}
		return NewJSONSink(path)
	case config.SinkSQLite:
		path, err := defaultPath(cfg.Path, "runs.db")
		if err != nil {
			return nil, err
		}
		return OpenSQLite(ctx, path)
	case config.SinkPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, config.ValidationError{Field: "sink.kind", Message: fmt.Sprintf("unknown sink %q", cfg.Kind)}
	}
}

func defaultPath(path, name string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := config.DataDir()
	if err != nil {
		return "", fmt.Errorf("resolve sink path: %w", err)
	}
	return filepath.Join(dir, name), nil
}
