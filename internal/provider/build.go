// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/cloud"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/offline"
	"github.com/agourakis82/beagle-sub000/internal/ollama"
)

// Build creates the adapter described by cfg. A disabled backend (kind
// "none" or empty) yields a nil Adapter and no error. Unknown kinds and
// invalid settings are configuration errors.
func Build(name string, cfg config.ProviderConfig, logger *zap.Logger) (Adapter, error) {
	logger = logging.OrNop(logger)
	if !cfg.Enabled() {
		return nil, nil
	}

	var (
		adapter Adapter
		err     error
	)
	switch cfg.Kind {
	case config.KindOpenAI:
		adapter, err = buildOpenAI(name, cfg, logger)
	case config.KindOllama:
		adapter, err = buildOllama(name, cfg)
	case config.KindBedrock:
		adapter, err = NewBedrock(context.Background(), name, cfg.Region, cfg.Model, cfg.MaxTokens, cfg.Timeout())
		if err != nil {
			err = config.ValidationError{Field: "providers." + name, Message: err.Error()}
		}
	case config.KindMock:
		m := NewMock(name, cfg.MockText)
		if m.Text == "" {
			m.Text = "mock response from " + name
		}
		m.Latency = time.Duration(cfg.MockLatencyMs) * time.Millisecond
		adapter = m
	default:
		err = config.ValidationError{Field: "providers." + name + ".kind", Message: fmt.Sprintf("unknown kind %q", cfg.Kind)}
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimitRPS > 0 {
		adapter = NewRateLimited(adapter, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	logger.Debug("provider built",
		zap.String("provider", name),
		zap.String("kind", cfg.Kind),
		zap.String("model", cfg.Model),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS))
	return adapter, nil
}

func buildOpenAI(name string, cfg config.ProviderConfig, logger *zap.Logger) (Adapter, error) {
	if _, err := offline.ValidateURL(cfg.BaseURL); err != nil {
		return nil, config.ValidationError{Field: "providers." + name + ".base_url", Message: err.Error()}
	}

	client := cloud.NewClient(cfg.ResolveAPIKey()).
		WithBaseURL(cfg.BaseURL).
		WithModel(cfg.Model).
		WithTimeout(cfg.Timeout()).
		WithMaxRetries(cfg.MaxRetries).
		WithMaxTokens(cfg.MaxTokens).
		WithLogger(logger.With(zap.String("provider", name)))

	if !client.IsConfigured() {
		// Local vLLM servers take no key; remote ones will answer 401.
		client.WithoutAuth()
		if u, _ := url.Parse(cfg.BaseURL); u != nil && !offline.IsLocalhost(u.Hostname()) {
			logger.Warn("no API key configured for remote provider",
				zap.String("provider", name),
				zap.String("api_key_env", cfg.APIKeyEnv))
		}
	}
	return NewOpenAI(name, client), nil
}

func buildOllama(name string, cfg config.ProviderConfig) (Adapter, error) {
	client, err := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.BaseURL,
		Timeout:      cfg.Timeout(),
		DefaultModel: cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		AllowRemote:  cfg.AllowRemote,
	})
	if err != nil {
		return nil, config.ValidationError{Field: "providers." + name + ".base_url", Message: err.Error()}
	}
	return NewOllama(name, cfg.Model, client), nil
}
