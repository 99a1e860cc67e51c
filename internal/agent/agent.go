// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"strings"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/tier"
)

// =============================================================================
// AGENT
// =============================================================================

// Agent produces one answer for a task. Implementations are expected to be
// safe for concurrent use; the coordinator runs several at once.
type Agent interface {
	Name() string
	Run(ctx context.Context, runID string, task Task) (Result, error)
}

// Section is a titled block of prompt input.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Task is the input to one agent call.
type Task struct {
	Instruction string    `json:"instruction"`
	Query       string    `json:"query"`
	Sections    []Section `json:"sections,omitempty"`
}

// With returns a copy of the task with an extra section appended.
func (t Task) With(title, body string) Task {
	out := t
	out.Sections = append(append([]Section(nil), t.Sections...), Section{Title: title, Body: body})
	return out
}

// Prompt renders the task as instruction, query and "=== TITLE ===" blocks.
// Empty sections are skipped.
func (t Task) Prompt() string {
	var b strings.Builder
	if t.Instruction != "" {
		b.WriteString(strings.TrimSpace(t.Instruction))
		b.WriteString("\n\n")
	}
	if t.Query != "" {
		b.WriteString("=== QUERY ===\n")
		b.WriteString(t.Query)
		b.WriteString("\n\n")
	}
	for _, s := range t.Sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		b.WriteString("=== ")
		b.WriteString(strings.ToUpper(s.Title))
		b.WriteString(" ===\n")
		b.WriteString(s.Body)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// =============================================================================
// RESULTS
// =============================================================================

// Result is one agent's answer.
type Result struct {
	Agent      string    `json:"agent"`
	Text       string    `json:"text"`
	Tier       tier.Tier `json:"tier"`
	Confidence float64   `json:"confidence"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	Downgraded bool      `json:"downgraded,omitempty"`
}

// Failure records an agent that did not produce a result.
type Failure struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"` // "error" or "timeout"
	Error  string `json:"error"`
}

// OrchestrationResult is the aggregate of one coordinated run.
type OrchestrationResult struct {
	RunID       string    `json:"run_id"`
	Query       string    `json:"query"`
	Answer      string    `json:"answer"`
	Confidence  float64   `json:"confidence"`
	Base        Result    `json:"base"`
	Specialists []Result  `json:"specialists"`
	Failures    []Failure `json:"failures,omitempty"`
	Context     []string  `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Tokens returns input and output tokens over the base and every specialist.
func (r OrchestrationResult) Tokens() (in, out int) {
	in, out = r.Base.TokensIn, r.Base.TokensOut
	for _, s := range r.Specialists {
		in += s.TokensIn
		out += s.TokensOut
	}
	return in, out
}
