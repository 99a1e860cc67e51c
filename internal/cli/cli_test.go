// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agourakis82/beagle-sub000/internal/app"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/coordinator"
	"github.com/agourakis82/beagle-sub000/internal/router"
	"github.com/agourakis82/beagle-sub000/internal/sink"
)

// =============================================================================
// HELPERS
// =============================================================================

const testConfigTOML = `
profile = "dev"

[providers.primary]
kind = "mock"
mock_text = "primary answer"

[providers.escalation]
kind = "mock"
mock_text = "escalation answer"
api_key = "sk-very-secret"

[providers.offline]
kind = "mock"
mock_text = "offline answer"

[retrieval]
db_path = '%s'

[sink]
kind = "%s"
path = '%s'

[logging]
level = "error"
`

// writeConfig writes a mock-backed config into a fresh data directory and
// returns its path.
func writeConfig(t *testing.T, sinkKind string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BEAGLE_DATA_DIR", dir)
	for _, env := range []string{"BEAGLE_PROFILE", "BEAGLE_HEAVY_ENABLE", "BEAGLE_LOG_LEVEL", "BEAGLE_REDIS_URL"} {
		t.Setenv(env, "")
	}

	path := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf(testConfigTOML, filepath.Join(dir, "index.db"), sinkKind, filepath.Join(dir, "runs"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeEnvelope(t *testing.T, out string) (JSONResponse, map[string]any) {
	t.Helper()
	var resp JSONResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	data, _ := resp.Data.(map[string]any)
	return resp, data
}

// =============================================================================
// ROUTE
// =============================================================================

func TestRoute_Tiers(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		wantTier       string
		wantText       string
		wantDowngraded bool
	}{
		{"dev default", nil, "primary", "primary answer", false},
		{"dev critical downgrades", []string{"--critical"}, "primary", "primary answer", true},
		{"lab critical escalates", []string{"--profile", "lab", "--critical"}, "escalation", "escalation answer", false},
		{"lab expert escalates", []string{"--profile", "lab", "--expert"}, "escalation", "escalation answer", false},
		{"lab high quality stays", []string{"--profile", "lab", "--high-quality"}, "primary", "primary answer", false},
		{"offline", []string{"--offline", "--critical"}, "offline_fallback", "offline answer", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "json")
			args := append([]string{"--config", path, "--json", "route"}, tt.args...)
			args = append(args, "what", "is", "entropy?")

			out, err := execute(t, nil, args...)
			require.NoError(t, err)

			resp, data := decodeEnvelope(t, out)
			assert.True(t, resp.Success)
			assert.Equal(t, "beagle route", resp.Command)
			assert.Equal(t, tt.wantTier, data["tier"])
			assert.Equal(t, tt.wantText, data["text"])
			assert.NotEmpty(t, data["run_id"])
			downgraded, _ := data["downgraded"].(bool)
			assert.Equal(t, tt.wantDowngraded, downgraded)
		})
	}
}

func TestRoute_PromptFromStdin(t *testing.T) {
	path := writeConfig(t, "json")

	out, err := execute(t, strings.NewReader("summarise this"), "--config", path, "route", "--run-id", "run-9")
	require.NoError(t, err)
	assert.Contains(t, out, "primary answer")
	assert.Contains(t, out, "tier: primary")
	assert.Contains(t, out, "run: run-9")
}

func TestRoute_EmptyPrompt(t *testing.T) {
	path := writeConfig(t, "json")

	_, err := execute(t, strings.NewReader("   "), "--config", path, "route")
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestRoute_JSONErrorEnvelope(t *testing.T) {
	path := writeConfig(t, "json")

	out, err := execute(t, strings.NewReader(""), "--config", path, "--json", "route")
	require.Error(t, err)

	var reported *reportedError
	assert.True(t, errors.As(err, &reported))

	resp, _ := decodeEnvelope(t, out)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "prompt is empty")
}

// =============================================================================
// ORCHESTRATE, USAGE AND RUNS
// =============================================================================

func TestOrchestrate_UsageAndRuns(t *testing.T) {
	path := writeConfig(t, "json")

	out, err := execute(t, nil, "--config", path, "--json", "orchestrate",
		"--run-id", "run-1", "--specialists", "fact_checker,quality", "what is entropy?")
	require.NoError(t, err)
	_, data := decodeEnvelope(t, out)
	assert.Equal(t, "primary answer", data["answer"])
	assert.Len(t, data["specialists"], 2)

	out, err = execute(t, nil, "--config", path, "--json", "usage", "run-1")
	require.NoError(t, err)
	_, usage := decodeEnvelope(t, out)
	assert.Equal(t, float64(3), usage["total_calls"])

	out, err = execute(t, nil, "--config", path, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "what is entropy?")

	out, err = execute(t, nil, "--config", path, "runs", "show", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "primary answer")
	assert.Contains(t, out, "fact_checker")
	assert.Contains(t, out, "total: 3 calls")
}

func TestOrchestrate_UnknownSpecialist(t *testing.T) {
	path := writeConfig(t, "json")

	_, err := execute(t, nil, "--config", path, "orchestrate", "--specialists", "astrologer", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "astrologer")
}

func TestUsage_UnknownRun(t *testing.T) {
	path := writeConfig(t, "json")

	_, err := execute(t, nil, "--config", path, "usage", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, sink.ErrRunNotFound)
	assert.Equal(t, ExitNotFoundError, ExitCode(err))
}

func TestRuns_SinkWithoutReader(t *testing.T) {
	path := writeConfig(t, "none")

	_, err := execute(t, nil, "--config", path, "runs", "list")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

// =============================================================================
// REVIEW AND INDEX
// =============================================================================

func TestReview_FromFile(t *testing.T) {
	path := writeConfig(t, "json")
	draft := filepath.Join(t.TempDir(), "draft.md")
	require.NoError(t, os.WriteFile(draft, []byte("# Results\nThe effect is large."), 0o600))

	out, err := execute(t, nil, "--config", path, "--profile", "lab", "--json", "review", "--run-id", "rev-1", draft)
	require.NoError(t, err)

	_, data := decodeEnvelope(t, out)
	assert.Equal(t, "escalation answer", data["final_draft"])
	assert.Len(t, data["stages"], 4)
	assert.Len(t, data["opinions"], 3)

	out, err = execute(t, nil, "--config", path, "--json", "runs", "show", "rev-1")
	require.NoError(t, err)
	_, rec := decodeEnvelope(t, out)
	assert.Equal(t, "rev-1", rec["run_id"])
}

func TestReview_EmptyDraft(t *testing.T) {
	path := writeConfig(t, "json")

	_, err := execute(t, strings.NewReader(""), "--config", path, "review")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestIndex(t *testing.T) {
	path := writeConfig(t, "json")
	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "a.md"), []byte("entropy measures disorder"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "b.txt"), []byte("enthalpy is heat content"), 0o600))

	out, err := execute(t, nil, "--config", path, "index", corpus)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 documents")
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfigShow_RedactsSecrets(t *testing.T) {
	path := writeConfig(t, "json")

	out, err := execute(t, nil, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-very-secret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "profile dev: escalation disabled")
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, "json")

	out, err := execute(t, nil, "--config", path, "--profile", "prod", "--json", "config", "validate")
	require.NoError(t, err)
	_, data := decodeEnvelope(t, out)
	assert.Equal(t, "prod", data["profile"])
	policy := data["policy"].(map[string]any)
	assert.Equal(t, true, policy["enable_escalation"])
	assert.Equal(t, float64(200), policy["escalation_max_calls_per_day"])
}

func TestConfigValidate_UnknownProfile(t *testing.T) {
	path := writeConfig(t, "json")

	_, err := execute(t, nil, "--config", path, "--profile", "staging", "config", "validate")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestConfigProfiles(t *testing.T) {
	out, err := execute(t, nil, "config", "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "profile dev: escalation disabled")
	assert.Contains(t, out, "profile lab: escalation enabled, 5 calls/run, 50000 tokens/run, 50 calls/day")
	assert.Contains(t, out, "profile prod: escalation enabled, 10 calls/run")
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config", config.ValidationError{Field: "profile", Message: "bad"}, ExitConfigError},
		{"invalid request", fmt.Errorf("%w: empty", app.ErrInvalidRequest), ExitUsageError},
		{"not found", sink.ErrRunNotFound, ExitNotFoundError},
		{"timeout", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"exhausted", router.ErrAllTiersExhausted, ExitBackendError},
		{"agents failed", coordinator.ErrAllAgentsFailed, ExitBackendError},
		{"reported", &reportedError{err: router.ErrAllTiersExhausted}, ExitBackendError},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, nil, "--json", "version")
	require.NoError(t, err)
	_, data := decodeEnvelope(t, out)
	assert.Equal(t, Version, data["version"])
}
