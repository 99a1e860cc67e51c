// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
	"github.com/agourakis82/beagle-sub000/internal/tier"
	"github.com/agourakis82/beagle-sub000/internal/util"
)

// ErrEmptyDraft is returned when the input draft is blank.
var ErrEmptyDraft = errors.New("draft is empty")

const summaryRunes = 240

// Input is the draft to review.
type Input struct {
	Draft          string `json:"draft"`
	ContextSummary string `json:"context_summary,omitempty"`
}

// Opinion is one reviewer's output.
type Opinion struct {
	Agent       string    `json:"agent"`
	Stage       Stage     `json:"stage"`
	Summary     string    `json:"summary"`
	Suggestions string    `json:"suggestions"`
	Score       float64   `json:"score"`
	Tier        tier.Tier `json:"tier"`
	TokensIn    int       `json:"tokens_in"`
	TokensOut   int       `json:"tokens_out"`
}

// StageRecord describes how one stage was served.
type StageRecord struct {
	Stage      Stage         `json:"stage"`
	Tier       tier.Tier     `json:"tier"`
	Downgraded bool          `json:"downgraded,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Report is the outcome of a full review.
type Report struct {
	RunID         string        `json:"run_id"`
	OriginalDraft string        `json:"original_draft"`
	FinalDraft    string        `json:"final_draft"`
	Opinions      []Opinion     `json:"opinions"`
	Stages        []StageRecord `json:"stages"`
	CreatedAt     time.Time     `json:"created_at"`

	arbitration agent.Result
}

// MeanScore averages the opinion scores.
func (r Report) MeanScore() float64 {
	if len(r.Opinions) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range r.Opinions {
		sum += o.Score
	}
	return sum / float64(len(r.Opinions))
}

// Orchestration converts the report for a result sink. The arbitration is
// the base answer and each opinion a specialist; confidence is the mean
// opinion score.
func (r Report) Orchestration() agent.OrchestrationResult {
	base := r.arbitration
	base.Agent = StageArbitration.Agent()
	base.Text = r.FinalDraft
	base.Confidence = r.MeanScore()

	specialists := make([]agent.Result, 0, len(r.Opinions))
	for _, o := range r.Opinions {
		specialists = append(specialists, agent.Result{
			Agent:      o.Agent,
			Text:       o.Suggestions,
			Tier:       o.Tier,
			Confidence: o.Score,
			TokensIn:   o.TokensIn,
			TokensOut:  o.TokensOut,
		})
	}
	return agent.OrchestrationResult{
		RunID:       r.RunID,
		Query:       util.Truncate(firstLine(r.OriginalDraft), 120),
		Answer:      r.FinalDraft,
		Confidence:  base.Confidence,
		Base:        base,
		Specialists: specialists,
		CreatedAt:   r.CreatedAt,
	}
}

// Options configures a Pipeline.
type Options struct {
	Router  agent.Router
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Pipeline runs critique, rewrite, adversarial review and arbitration in
// sequence. Each stage sees the outputs of the stages before it.
type Pipeline struct {
	agents  map[Stage]agent.Agent
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Router == nil {
		return nil, errors.New("review pipeline requires a router")
	}
	p := &Pipeline{
		agents:  make(map[Stage]agent.Agent, len(Stages())),
		logger:  logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}
	for _, s := range Stages() {
		p.agents[s] = NewStageAgent(s, opts.Router)
	}
	return p, nil
}

// Run walks the state machine from critique to done. A failing stage aborts
// the review; the error names the stage and the partial report is returned.
func (p *Pipeline) Run(ctx context.Context, runID string, in Input) (Report, error) {
	report := Report{RunID: runID, OriginalDraft: in.Draft}
	if strings.TrimSpace(in.Draft) == "" {
		return report, ErrEmptyDraft
	}
	log := p.logger.With(zap.String("run_id", runID))

	var critique, rewrite, adversarial string
	for stage := StageCritique; stage != StageDone; stage = stage.Next() {
		task := buildTask(stage, in, critique, rewrite, adversarial)

		start := time.Now()
		res, err := p.agents[stage].Run(ctx, runID, task)
		elapsed := time.Since(start)
		p.metrics.RecordStage(stage.String(), elapsed)
		if err != nil {
			p.metrics.RecordRun("review", telemetry.OutcomeFailure)
			log.Error("review stage failed", zap.Stringer("stage", stage), zap.Error(err))
			return report, fmt.Errorf("review stage %s: %w", stage, err)
		}

		report.Stages = append(report.Stages, StageRecord{
			Stage:      stage,
			Tier:       res.Tier,
			Downgraded: res.Downgraded,
			Duration:   elapsed,
		})
		log.Info("review stage complete",
			zap.Stringer("stage", stage),
			zap.Stringer("tier", res.Tier),
			zap.Bool("downgraded", res.Downgraded),
			zap.Duration("duration", elapsed))

		if stage == StageArbitration {
			report.FinalDraft = strings.TrimSpace(res.Text)
			report.arbitration = res
			continue
		}

		report.Opinions = append(report.Opinions, Opinion{
			Agent:       res.Agent,
			Stage:       stage,
			Summary:     util.Truncate(firstLine(res.Text), summaryRunes),
			Suggestions: res.Text,
			Score:       res.Confidence,
			Tier:        res.Tier,
			TokensIn:    res.TokensIn,
			TokensOut:   res.TokensOut,
		})

		switch stage {
		case StageCritique:
			critique = res.Text
		case StageRewrite:
			rewrite = res.Text
		case StageAdversarialReview:
			adversarial = res.Text
		}
	}

	report.CreatedAt = p.now().UTC()
	p.metrics.RecordRun("review", telemetry.OutcomeSuccess)
	return report, nil
}

// firstLine returns the first non-blank line, without Markdown heading marks.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return line
		}
	}
	return ""
}
