// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agourakis82/beagle-sub000/internal/offline"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ErrConfiguration matches every configuration error via errors.Is. A
// configuration error at startup is fatal.
var ErrConfiguration = errors.New("configuration error")

// ValidationError represents a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e ValidationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e ValidateErrors) Is(target error) bool {
	return target == ErrConfiguration
}

// Validate validates the configuration and returns any errors. Resolve must
// have run first so Policy is populated.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Profile and quota
	// ==========================================================================

	if _, err := ParseProfile(c.Profile); err != nil {
		var ve ValidationError
		if errors.As(err, &ve) {
			errs = append(errs, ve)
		}
	}

	p := c.Policy
	if p.EscalationMaxCallsPerRun < 0 {
		errs = append(errs, ValidationError{Field: "quota.escalation_max_calls_per_run", Message: "must be >= 0"})
	}
	if p.EscalationMaxTokensPerRun < 0 {
		errs = append(errs, ValidationError{Field: "quota.escalation_max_tokens_per_run", Message: "must be >= 0"})
	}
	if p.EscalationMaxCallsPerDay < 0 {
		errs = append(errs, ValidationError{Field: "quota.escalation_max_calls_per_day", Message: "must be >= 0"})
	}

	switch c.Routing.DailyWindow {
	case WindowRolling, WindowCalendar:
	default:
		errs = append(errs, ValidationError{
			Field:   "routing.daily_window",
			Message: fmt.Sprintf("invalid window '%s', must be one of: rolling, calendar", c.Routing.DailyWindow),
		})
	}
	if _, err := c.Routing.Location(); err != nil {
		errs = append(errs, ValidationError{Field: "routing.daily_window_tz", Message: err.Error()})
	}
	if c.Routing.RunIdleMinutes < 0 {
		errs = append(errs, ValidationError{Field: "routing.run_idle_minutes", Message: "must be >= 0"})
	}

	// ==========================================================================
	// Providers
	// ==========================================================================

	if !c.Providers.Primary.Enabled() {
		errs = append(errs, ValidationError{Field: "providers.primary", Message: "a primary backend is required"})
	}
	if !c.Providers.Offline.Enabled() {
		errs = append(errs, ValidationError{Field: "providers.offline", Message: "an offline backend is required"})
	}
	if p.EnableEscalation && !c.Providers.Escalation.Enabled() {
		errs = append(errs, ValidationError{Field: "providers.escalation", Message: "escalation is enabled but no backend is configured"})
	}

	errs = append(errs, validateProvider("providers.primary", c.Providers.Primary)...)
	errs = append(errs, validateProvider("providers.escalation", c.Providers.Escalation)...)
	errs = append(errs, validateProvider("providers.specialist_math", c.Providers.SpecialistMath)...)
	errs = append(errs, validateProvider("providers.offline", c.Providers.Offline)...)

	off := c.Providers.Offline
	if off.Enabled() {
		switch off.Kind {
		case KindOllama, KindOpenAI, KindMock:
		default:
			errs = append(errs, ValidationError{
				Field:   "providers.offline.kind",
				Message: fmt.Sprintf("kind '%s' cannot serve the offline tier", off.Kind),
			})
		}
		if off.Kind != KindMock && !off.AllowRemote {
			if err := offline.ValidateLocalURL(off.BaseURL); errors.Is(err, offline.ErrNonLocalhost) {
				errs = append(errs, ValidationError{
					Field:   "providers.offline.base_url",
					Message: fmt.Sprintf("'%s' is not a loopback address (set allow_remote to override)", off.BaseURL),
				})
			}
		}
	}

	// ==========================================================================
	// Coordinator
	// ==========================================================================

	if c.Coordinator.AgentTimeoutMs <= 0 {
		errs = append(errs, ValidationError{Field: "coordinator.agent_timeout_ms", Message: "must be > 0"})
	}
	if c.Coordinator.FailurePenalty < 0 || c.Coordinator.FailurePenalty > 1 {
		errs = append(errs, ValidationError{Field: "coordinator.failure_penalty", Message: "must be between 0 and 1"})
	}
	if c.Coordinator.BaseConfidence < 0 || c.Coordinator.BaseConfidence > 1 {
		errs = append(errs, ValidationError{Field: "coordinator.base_confidence", Message: "must be between 0 and 1"})
	}
	if c.Coordinator.MaxConcurrent < 1 {
		errs = append(errs, ValidationError{Field: "coordinator.max_concurrent", Message: "must be >= 1"})
	}

	// ==========================================================================
	// Storage
	// ==========================================================================

	switch c.Sink.Kind {
	case SinkJSON, SinkSQLite, SinkNone:
	case SinkPostgres:
		if c.Sink.DSN == "" {
			errs = append(errs, ValidationError{Field: "sink.dsn", Message: "required for postgres sink"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "sink.kind",
			Message: fmt.Sprintf("invalid sink '%s', must be one of: json, sqlite, postgres, none", c.Sink.Kind),
		})
	}
	if c.Retrieval.MaxSnippets < 1 {
		errs = append(errs, ValidationError{Field: "retrieval.max_snippets", Message: "must be >= 1"})
	}
	if c.Retrieval.Watch && c.Retrieval.CorpusDir == "" {
		errs = append(errs, ValidationError{Field: "retrieval.watch", Message: "requires retrieval.corpus_dir"})
	}

	// ==========================================================================
	// Logging and server
	// ==========================================================================

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: json, console", c.Logging.Format),
		})
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_rps", Message: "must be >= 0"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateProvider(field string, p ProviderConfig) []ValidationError {
	if !p.Enabled() {
		return nil
	}

	var errs []ValidationError
	switch p.Kind {
	case KindOpenAI, KindOllama:
		if _, err := offline.ValidateURL(p.BaseURL); err != nil {
			errs = append(errs, ValidationError{Field: field + ".base_url", Message: err.Error()})
		}
		if p.Model == "" {
			errs = append(errs, ValidationError{Field: field + ".model", Message: "required"})
		}
	case KindBedrock:
		if p.Region == "" {
			errs = append(errs, ValidationError{Field: field + ".region", Message: "required for bedrock"})
		}
		if p.Model == "" {
			errs = append(errs, ValidationError{Field: field + ".model", Message: "required"})
		}
	case KindMock:
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".kind",
			Message: fmt.Sprintf("invalid kind '%s', must be one of: openai, ollama, bedrock, mock, none", p.Kind),
		})
	}

	if p.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: field + ".timeout_secs", Message: "must be >= 0"})
	}
	if p.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{Field: field + ".rate_limit_rps", Message: "must be >= 0"})
	}
	return errs
}
