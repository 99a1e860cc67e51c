// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agourakis82/beagle-sub000/internal/agent"
	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/coordinator"
	"github.com/agourakis82/beagle-sub000/internal/ledger"
	"github.com/agourakis82/beagle-sub000/internal/logging"
	"github.com/agourakis82/beagle-sub000/internal/provider"
	"github.com/agourakis82/beagle-sub000/internal/request"
	"github.com/agourakis82/beagle-sub000/internal/retrieval"
	"github.com/agourakis82/beagle-sub000/internal/review"
	"github.com/agourakis82/beagle-sub000/internal/router"
	"github.com/agourakis82/beagle-sub000/internal/sink"
	"github.com/agourakis82/beagle-sub000/internal/telemetry"
)

// =============================================================================
// APP
// =============================================================================

// App is the wired object graph built from a Config.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
	Ledger      *ledger.Ledger
	Router      *router.Router
	Coordinator *coordinator.Coordinator
	Pipeline    *review.Pipeline

	// Store is nil when retrieval is disabled.
	Store *retrieval.Store
	Sink  sink.Sink

	watcher *retrieval.Watcher
	closers []io.Closer
}

// Options overrides parts of the graph. Zero fields are built from config.
type Options struct {
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Adapters *router.Adapters
	Sink     sink.Sink
}

// New builds every component named by cfg. On error everything opened so
// far is closed again.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if cfg == nil {
		return nil, errors.New("app requires a configuration")
	}
	a = &App{
		Config:  cfg,
		Logger:  logging.OrNop(opts.Logger),
		Metrics: opts.Metrics,
	}
	if a.Metrics == nil {
		a.Metrics = telemetry.NewMetrics()
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	dayCounter, err := a.buildDayCounter(ctx)
	if err != nil {
		return a, err
	}
	a.Ledger = ledger.New(cfg.Policy,
		ledger.WithDayCounter(dayCounter),
		ledger.WithLogger(a.Logger.Named("ledger")))

	adapters := opts.Adapters
	if adapters == nil {
		built, err := a.buildAdapters()
		if err != nil {
			return a, err
		}
		adapters = &built
	}

	a.Router, err = router.New(router.Options{
		Policy:   cfg.Policy,
		Ledger:   a.Ledger,
		Adapters: *adapters,
		Logger:   a.Logger.Named("router"),
		Metrics:  a.Metrics,
	})
	if err != nil {
		return a, err
	}

	if cfg.Retrieval.DBPath != "" {
		a.Store, err = retrieval.Open(cfg.Retrieval.DBPath, cfg.Retrieval.MaxSnippets, a.Logger.Named("retrieval"))
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, a.Store)
	}

	base := agent.NewAnswerAgent(a.Router)
	if cfg.Coordinator.BaseConfidence > 0 {
		base.DefaultConfidence = cfg.Coordinator.BaseConfidence
	}
	coordOpts := coordinator.Options{
		Base:           base,
		AgentTimeout:   cfg.Coordinator.AgentTimeout(),
		FailurePenalty: cfg.Coordinator.FailurePenalty,
		MaxConcurrent:  cfg.Coordinator.MaxConcurrent,
		Logger:         a.Logger.Named("coordinator"),
		Metrics:        a.Metrics,
	}
	if a.Store != nil {
		coordOpts.Retriever = a.Store
	}
	a.Coordinator, err = coordinator.New(coordOpts)
	if err != nil {
		return a, err
	}

	a.Pipeline, err = review.New(review.Options{
		Router:  a.Router,
		Logger:  a.Logger.Named("review"),
		Metrics: a.Metrics,
	})
	if err != nil {
		return a, err
	}

	a.Sink = opts.Sink
	if a.Sink == nil {
		a.Sink, err = sink.Open(ctx, cfg.Sink)
		if err != nil {
			return a, err
		}
		if c, ok := a.Sink.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}

	a.Logger.Info("app ready",
		zap.String("profile", cfg.Profile),
		zap.Bool("escalation", cfg.Policy.EnableEscalation),
		zap.Bool("retrieval", a.Store != nil),
		zap.String("sink", cfg.Sink.Kind))
	return a, nil
}

// buildDayCounter returns a Redis counter when a URL is configured, else an
// in-process one.
func (a *App) buildDayCounter(ctx context.Context) (ledger.DayCounter, error) {
	loc, err := a.Config.Routing.Location()
	if err != nil {
		return nil, config.ValidationError{Field: "routing.daily_window_tz", Message: err.Error()}
	}
	if a.Config.Redis.URL == "" {
		return ledger.NewMemoryDayCounter(a.Config.Routing.DailyWindow, loc), nil
	}
	client, err := ledger.OpenRedis(ctx, a.Config.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)
	return ledger.NewRedisDayCounter(client, a.Config.Redis.KeyPrefix, a.Config.Routing.DailyWindow, loc), nil
}

func (a *App) buildAdapters() (router.Adapters, error) {
	var (
		out  router.Adapters
		errs config.ValidateErrors
	)
	build := func(field string, pc config.ProviderConfig) provider.Adapter {
		adapter, err := provider.Build(field, pc, a.Logger.Named("provider"))
		if err != nil {
			var ve config.ValidationError
			if errors.As(err, &ve) {
				errs = append(errs, ve)
			} else {
				errs = append(errs, config.ValidationError{Field: "providers." + field, Message: err.Error()})
			}
			return nil
		}
		return adapter
	}

	p := a.Config.Providers
	out.Primary = build("primary", p.Primary)
	out.Escalation = build("escalation", p.Escalation)
	out.SpecialistMath = build("specialist_math", p.SpecialistMath)
	out.OfflineFallback = build("offline", p.Offline)
	if len(errs) > 0 {
		return out, errs
	}
	return out, nil
}

// Close stops the watcher and closes databases and clients.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ErrInvalidRequest marks caller mistakes such as an empty query.
var ErrInvalidRequest = errors.New("invalid request")

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

func runIDOrNew(id string) string {
	if strings.TrimSpace(id) == "" {
		return NewRunID()
	}
	return id
}

// Route sends one prompt through the tier router. The descriptor is sized
// to the prompt when it carries no estimate.
func (a *App) Route(ctx context.Context, runID, prompt string, desc request.Descriptor) (string, router.Result, error) {
	runID = runIDOrNew(runID)
	if desc.ApproximateTokens <= 0 {
		desc = request.ForPrompt(prompt, desc)
	}
	res, err := a.Router.Route(ctx, runID, prompt, desc)
	return runID, res, err
}

// Orchestrate answers query with the base agent and the named specialists
// (all of them when names is empty) and persists the result.
func (a *App) Orchestrate(ctx context.Context, runID, query string, names []string) (agent.OrchestrationResult, error) {
	runID = runIDOrNew(runID)
	if strings.TrimSpace(query) == "" {
		return agent.OrchestrationResult{RunID: runID}, fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}

	specialists := agent.DefaultSpecialists(a.Router)
	if len(names) > 0 {
		var unknown []string
		specialists, unknown = agent.SpecialistsByName(a.Router, names)
		if len(unknown) > 0 {
			return agent.OrchestrationResult{RunID: runID}, fmt.Errorf("%w: unknown specialists: %s", ErrInvalidRequest, strings.Join(unknown, ", "))
		}
	}

	res, err := a.Coordinator.Orchestrate(ctx, runID, agent.Task{Query: query}, specialists)
	if err != nil {
		return res, err
	}
	return res, a.persist(ctx, res)
}

// Review runs the review pipeline over a draft and persists the outcome.
func (a *App) Review(ctx context.Context, runID string, in review.Input) (review.Report, error) {
	runID = runIDOrNew(runID)
	report, err := a.Pipeline.Run(ctx, runID, in)
	if err != nil {
		return report, err
	}
	return report, a.persist(ctx, report.Orchestration())
}

// persist hands the result to the sink. The run's ledger counters stay
// live: callers may keep using the run id, so only the idle sweep releases
// them.
func (a *App) persist(ctx context.Context, res agent.OrchestrationResult) error {
	if err := a.Sink.Persist(ctx, res, a.Ledger.Snapshot(res.RunID)); err != nil {
		a.Logger.Error("failed to persist run", zap.String("run_id", res.RunID), zap.Error(err))
		return fmt.Errorf("persist run %s: %w", res.RunID, err)
	}
	return nil
}

// SweepIdleRuns drops the ledger counters of runs idle for longer than
// routing.run_idle_minutes and returns their ids.
func (a *App) SweepIdleRuns() []string {
	evicted := a.Ledger.EvictIdle(a.Config.Routing.RunIdleTTL())
	if len(evicted) > 0 {
		a.Logger.Debug("released idle runs", zap.Int("count", len(evicted)), zap.Strings("run_ids", evicted))
	}
	return evicted
}

// StartSweeper calls SweepIdleRuns every interval until ctx is done. It is
// a no-op when the idle time is zero.
func (a *App) StartSweeper(ctx context.Context, interval time.Duration) {
	if a.Config.Routing.RunIdleTTL() <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.SweepIdleRuns()
			}
		}
	}()
}

// Usage reports a run's usage. Live ledger counters are preferred; runs
// released by the idle sweep are read back from the sink. ok is false for
// unknown runs.
func (a *App) Usage(ctx context.Context, runID string) (report telemetry.UsageReport, ok bool, err error) {
	snap := a.Ledger.Snapshot(runID)
	if len(snap.Tiers) > 0 {
		return telemetry.Summarize(snap), true, nil
	}
	reader, isReader := a.Sink.(sink.Reader)
	if !isReader {
		return telemetry.UsageReport{RunID: runID}, false, nil
	}
	rec, err := reader.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, sink.ErrRunNotFound) || errors.Is(err, sink.ErrInvalidRunID) {
			return telemetry.UsageReport{RunID: runID}, false, nil
		}
		return telemetry.UsageReport{}, false, err
	}
	return rec.Usage, true, nil
}

// Index adds every corpus file under dir to the retrieval store.
func (a *App) Index(ctx context.Context, dir string) (int, error) {
	if a.Store == nil {
		return 0, config.ValidationError{Field: "retrieval.db_path", Message: "retrieval is disabled"}
	}
	if dir == "" {
		dir = a.Config.Retrieval.CorpusDir
	}
	if dir == "" {
		return 0, config.ValidationError{Field: "retrieval.corpus_dir", Message: "no corpus directory"}
	}
	return a.Store.IndexDir(ctx, dir)
}

// StartWatcher re-indexes the corpus directory on change when retrieval
// watching is enabled. It is a no-op otherwise.
func (a *App) StartWatcher(ctx context.Context) error {
	rc := a.Config.Retrieval
	if a.Store == nil || !rc.Watch || rc.CorpusDir == "" || a.watcher != nil {
		return nil
	}
	w, err := retrieval.NewWatcher(a.Store, rc.CorpusDir, retrieval.DefaultDebounce, a.Logger.Named("watcher"))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Close()
		return err
	}
	a.watcher = w
	return nil
}
