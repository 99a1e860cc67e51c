// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete router configuration.
type Config struct {
	// Profile selects the built-in quota policy (dev, lab, prod).
	Profile string `toml:"profile" json:"profile" yaml:"profile"`

	// Quota overrides individual fields of the profile policy.
	Quota QuotaOverrides `toml:"quota" json:"quota" yaml:"quota"`

	Routing     RoutingConfig     `toml:"routing" json:"routing" yaml:"routing"`
	Providers   ProvidersConfig   `toml:"providers" json:"providers" yaml:"providers"`
	Coordinator CoordinatorConfig `toml:"coordinator" json:"coordinator" yaml:"coordinator"`
	Retrieval   RetrievalConfig   `toml:"retrieval" json:"retrieval" yaml:"retrieval"`
	Sink        SinkConfig        `toml:"sink" json:"sink" yaml:"sink"`
	Redis       RedisConfig       `toml:"redis" json:"redis" yaml:"redis"`
	Logging     LoggingConfig     `toml:"logging" json:"logging" yaml:"logging"`
	Server      ServerConfig      `toml:"server" json:"server" yaml:"server"`

	// Policy is the effective quota policy, filled by Resolve.
	Policy RunQuotaPolicy `toml:"-" json:"-" yaml:"-"`
}

// DailyWindow selects how the per-day escalation limit is counted.
type DailyWindow string

const (
	// WindowRolling counts calls in the trailing 24 hours.
	WindowRolling DailyWindow = "rolling"
	// WindowCalendar resets at midnight in the configured time zone.
	WindowCalendar DailyWindow = "calendar"
)

// RoutingConfig contains tier routing settings.
type RoutingConfig struct {
	DailyWindow   DailyWindow `toml:"daily_window" json:"daily_window" yaml:"daily_window"`
	DailyWindowTZ string      `toml:"daily_window_tz" json:"daily_window_tz" yaml:"daily_window_tz"`
	// RunIdleMinutes is how long a run's counters are kept after its last
	// reservation. A run id reused later starts from zero.
	RunIdleMinutes int `toml:"run_idle_minutes" json:"run_idle_minutes" yaml:"run_idle_minutes"`
}

// RunIdleTTL returns the idle time after which a run's counters are dropped.
func (r RoutingConfig) RunIdleTTL() time.Duration {
	return time.Duration(r.RunIdleMinutes) * time.Minute
}

// Location returns the time zone for calendar windows. Empty means UTC.
func (r RoutingConfig) Location() (*time.Location, error) {
	if r.DailyWindowTZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.DailyWindowTZ)
}

// Provider kinds.
const (
	KindOpenAI  = "openai"
	KindOllama  = "ollama"
	KindBedrock = "bedrock"
	KindMock    = "mock"
	KindNone    = "none"
)

// ProviderConfig configures the backend behind one tier. Kind "none"
// leaves the tier without a backend; an empty Kind takes the default.
type ProviderConfig struct {
	Kind      string `toml:"kind" json:"kind" yaml:"kind"`
	BaseURL   string `toml:"base_url" json:"base_url,omitempty" yaml:"base_url"`
	Model     string `toml:"model" json:"model,omitempty" yaml:"model"`
	APIKey    string `toml:"api_key" json:"api_key,omitempty" yaml:"api_key"`
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env,omitempty" yaml:"api_key_env"`
	Region    string `toml:"region" json:"region,omitempty" yaml:"region"`

	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs,omitempty" yaml:"timeout_secs"`
	MaxRetries  int `toml:"max_retries" json:"max_retries,omitempty" yaml:"max_retries"`
	MaxTokens   int `toml:"max_tokens" json:"max_tokens,omitempty" yaml:"max_tokens"`

	// RateLimitRPS paces requests to the backend; zero disables pacing.
	RateLimitRPS   float64 `toml:"rate_limit_rps" json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst" json:"rate_limit_burst,omitempty" yaml:"rate_limit_burst"`

	// AllowRemote lets the offline tier point at a non-loopback host.
	AllowRemote bool `toml:"allow_remote" json:"allow_remote,omitempty" yaml:"allow_remote"`

	// Mock backend settings.
	MockText      string `toml:"mock_text" json:"mock_text,omitempty" yaml:"mock_text"`
	MockLatencyMs int    `toml:"mock_latency_ms" json:"mock_latency_ms,omitempty" yaml:"mock_latency_ms"`
}

// Enabled reports whether a backend is configured.
func (p ProviderConfig) Enabled() bool {
	return p.Kind != "" && p.Kind != KindNone
}

// ResolveAPIKey returns the inline key, or the value of APIKeyEnv.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// Timeout returns the request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ProvidersConfig has one backend per tier.
type ProvidersConfig struct {
	Primary        ProviderConfig `toml:"primary" json:"primary" yaml:"primary"`
	Escalation     ProviderConfig `toml:"escalation" json:"escalation" yaml:"escalation"`
	SpecialistMath ProviderConfig `toml:"specialist_math" json:"specialist_math" yaml:"specialist_math"`
	Offline        ProviderConfig `toml:"offline" json:"offline" yaml:"offline"`
}

// CoordinatorConfig controls specialist fan-out.
type CoordinatorConfig struct {
	AgentTimeoutMs int     `toml:"agent_timeout_ms" json:"agent_timeout_ms" yaml:"agent_timeout_ms"`
	FailurePenalty float64 `toml:"failure_penalty" json:"failure_penalty" yaml:"failure_penalty"`
	MaxConcurrent  int     `toml:"max_concurrent" json:"max_concurrent" yaml:"max_concurrent"`
	BaseConfidence float64 `toml:"base_confidence" json:"base_confidence" yaml:"base_confidence"`
}

// AgentTimeout returns the per-agent deadline.
func (c CoordinatorConfig) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMs) * time.Millisecond
}

// RetrievalConfig configures the context snippet store. An empty DBPath
// disables retrieval.
type RetrievalConfig struct {
	DBPath      string `toml:"db_path" json:"db_path" yaml:"db_path"`
	CorpusDir   string `toml:"corpus_dir" json:"corpus_dir" yaml:"corpus_dir"`
	Watch       bool   `toml:"watch" json:"watch" yaml:"watch"`
	MaxSnippets int    `toml:"max_snippets" json:"max_snippets" yaml:"max_snippets"`
}

// Sink kinds.
const (
	SinkJSON     = "json"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkNone     = "none"
)

// SinkConfig selects where completed runs are persisted.
type SinkConfig struct {
	Kind string `toml:"kind" json:"kind" yaml:"kind"`
	Path string `toml:"path" json:"path" yaml:"path"`
	DSN  string `toml:"dsn" json:"dsn,omitempty" yaml:"dsn"`
}

// RedisConfig enables a shared per-day counter. An empty URL keeps the
// counter in process memory.
type RedisConfig struct {
	URL       string `toml:"url" json:"url,omitempty" yaml:"url"`
	KeyPrefix string `toml:"key_prefix" json:"key_prefix" yaml:"key_prefix"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string  `toml:"addr" json:"addr" yaml:"addr"`
	AuthToken      string  `toml:"auth_token" json:"auth_token,omitempty" yaml:"auth_token"`
	RateLimitRPS   float64 `toml:"rate_limit_rps" json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst" json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultGrokURL is the OpenAI-compatible xAI endpoint.
	DefaultGrokURL = "https://api.x.ai/v1"
	// DefaultOllamaURL is the local Ollama endpoint.
	DefaultOllamaURL = "http://127.0.0.1:11434"
)

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Profile: string(ProfileDev),
		Routing: RoutingConfig{
			DailyWindow:    WindowRolling,
			RunIdleMinutes: 24 * 60,
		},
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				Kind:        KindOpenAI,
				BaseURL:     DefaultGrokURL,
				Model:       "grok-3",
				APIKeyEnv:   "XAI_API_KEY",
				TimeoutSecs: 60,
				MaxRetries:  3,
			},
			Escalation: ProviderConfig{
				Kind:        KindOpenAI,
				BaseURL:     DefaultGrokURL,
				Model:       "grok-4-heavy",
				APIKeyEnv:   "XAI_API_KEY",
				TimeoutSecs: 120,
				MaxRetries:  1,
			},
			Offline: ProviderConfig{
				Kind:        KindOllama,
				BaseURL:     DefaultOllamaURL,
				Model:       "llama3.1:8b",
				TimeoutSecs: 120,
			},
		},
		Coordinator: CoordinatorConfig{
			AgentTimeoutMs: 60_000,
			FailurePenalty: 0.1,
			MaxConcurrent:  4,
			BaseConfidence: 0.78,
		},
		Retrieval: RetrievalConfig{
			MaxSnippets: 5,
		},
		Sink: SinkConfig{
			Kind: SinkJSON,
		},
		Redis: RedisConfig{
			KeyPrefix: "beagle:escalation:day",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
	}
}

// DataDir returns the data directory: BEAGLE_DATA_DIR, else ~/.beagle.
func DataDir() (string, error) {
	if dir := os.Getenv("BEAGLE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".beagle"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load loads configuration from path. With an empty path it looks for
// config.toml, config.yaml and config.json in DataDir and falls back to
// defaults when none exists. Environment overrides are applied last, then
// the policy is resolved and the result validated.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromPath(path)
	}

	if dir, err := DataDir(); err == nil {
		for _, name := range []string{"config.toml", "config.yaml", "config.yml", "config.json"} {
			candidate := filepath.Join(dir, name)
			if _, statErr := os.Stat(candidate); statErr == nil {
				return LoadFromPath(candidate)
			}
		}
	}

	cfg := Default()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. The format is
// chosen by extension: .json, .yaml/.yml, anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg and fills defaults.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var errs ValidateErrors
		for _, key := range undecoded {
			errs = append(errs, ValidationError{Field: key.String(), Message: "unknown configuration key"})
		}
		return errs
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file into cfg and fills defaults.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return ValidateErrors{{Field: filepath.Base(path), Message: err.Error()}}
	}
	fillDefaults(cfg)
	return nil
}

// LoadYAML decodes a YAML file into cfg and fills defaults.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return ValidateErrors{{Field: filepath.Base(path), Message: err.Error()}}
	}
	fillDefaults(cfg)
	return nil
}

// finalize applies env overrides, resolves the policy and validates.
func (c *Config) finalize() error {
	if err := c.ApplyEnvOverrides(); err != nil {
		return err
	}
	if err := c.Resolve(); err != nil {
		return err
	}
	return c.Validate()
}

// Resolve computes Policy from Profile and the quota overrides.
func (c *Config) Resolve() error {
	profile, err := ParseProfile(c.Profile)
	if err != nil {
		return err
	}
	c.Profile = string(profile)
	c.Policy = c.Quota.Apply(PolicyForProfile(profile))
	return nil
}

// fillDefaults fills zero values with defaults. Providers whose kind is set
// only get their numeric fields filled, so a partially specified backend
// never inherits another backend's URL or model.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Profile == "" {
		cfg.Profile = defaults.Profile
	}
	if cfg.Routing.DailyWindow == "" {
		cfg.Routing.DailyWindow = defaults.Routing.DailyWindow
	}
	if cfg.Routing.RunIdleMinutes == 0 {
		cfg.Routing.RunIdleMinutes = defaults.Routing.RunIdleMinutes
	}

	fillProvider(&cfg.Providers.Primary, defaults.Providers.Primary)
	fillProvider(&cfg.Providers.Escalation, defaults.Providers.Escalation)
	fillProvider(&cfg.Providers.Offline, defaults.Providers.Offline)
	if cfg.Providers.SpecialistMath.Enabled() && cfg.Providers.SpecialistMath.TimeoutSecs == 0 {
		cfg.Providers.SpecialistMath.TimeoutSecs = defaults.Providers.Primary.TimeoutSecs
	}

	if cfg.Coordinator.AgentTimeoutMs == 0 {
		cfg.Coordinator.AgentTimeoutMs = defaults.Coordinator.AgentTimeoutMs
	}
	if cfg.Coordinator.FailurePenalty == 0 {
		cfg.Coordinator.FailurePenalty = defaults.Coordinator.FailurePenalty
	}
	if cfg.Coordinator.MaxConcurrent == 0 {
		cfg.Coordinator.MaxConcurrent = defaults.Coordinator.MaxConcurrent
	}
	if cfg.Coordinator.BaseConfidence == 0 {
		cfg.Coordinator.BaseConfidence = defaults.Coordinator.BaseConfidence
	}

	if cfg.Retrieval.MaxSnippets == 0 {
		cfg.Retrieval.MaxSnippets = defaults.Retrieval.MaxSnippets
	}
	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = defaults.Sink.Kind
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = defaults.Redis.KeyPrefix
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = defaults.Server.RateLimitRPS
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}
}

func fillProvider(p *ProviderConfig, def ProviderConfig) {
	if p.Kind == "" {
		*p = def
		return
	}
	if p.Kind == KindNone {
		return
	}
	if p.Kind == def.Kind {
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.Model == "" {
			p.Model = def.Model
		}
		if p.APIKey == "" && p.APIKeyEnv == "" {
			p.APIKeyEnv = def.APIKeyEnv
		}
	}
	if p.TimeoutSecs == 0 {
		p.TimeoutSecs = def.TimeoutSecs
	}
}
