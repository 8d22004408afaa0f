// Package pipeline orchestrates the periodic passes: resolution sweeps,
// scoring, consensus + signal generation with snapshot export, and the paper
// ledger. Components never block each other; they communicate through the
// shared stores and the scheduler stitches their outputs into one consistent
// snapshot per export pass.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/whaletrack/internal/consensus"
	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/paper"
	"github.com/alanyoungcy/whaletrack/internal/resolution"
	"github.com/alanyoungcy/whaletrack/internal/scoring"
	"github.com/alanyoungcy/whaletrack/internal/signal"
)

// passChannel carries pass_completed events on the bus.
const passChannel = "passes"

// SnapshotArchiver persists one exported snapshot, returning the object key.
// Satisfied by the S3 snapshot archiver; nil disables archival.
type SnapshotArchiver interface {
	Archive(ctx context.Context, snap domain.Snapshot) (string, error)
}

// Params holds the tick intervals and export sizing.
type Params struct {
	ResolutionInterval time.Duration
	ScoringInterval    time.Duration
	SignalInterval     time.Duration
	PaperInterval      time.Duration
	LeaderboardSize    int
	PaperParams        paper.Params
}

// Scheduler runs every component on its own ticker under one errgroup.
type Scheduler struct {
	tracker    *resolution.Tracker
	scorer     *scoring.Scorer
	aggregator *consensus.Aggregator
	generator  *signal.Generator
	ledger     *paper.Ledger

	profiles domain.TraderProfileStore
	signals  domain.SignalStore
	paper    domain.PaperTradeStore
	archiver SnapshotArchiver
	bus      domain.EventBus
	logger   *slog.Logger
	params   Params

	mu         sync.RWMutex
	snapshot   *domain.Snapshot
	lastReport domain.PassReport
}

// NewScheduler creates a Scheduler. archiver and bus may be nil.
func NewScheduler(
	tracker *resolution.Tracker,
	scorer *scoring.Scorer,
	aggregator *consensus.Aggregator,
	generator *signal.Generator,
	ledger *paper.Ledger,
	profiles domain.TraderProfileStore,
	signals domain.SignalStore,
	paperStore domain.PaperTradeStore,
	archiver SnapshotArchiver,
	bus domain.EventBus,
	params Params,
	logger *slog.Logger,
) *Scheduler {
	if params.LeaderboardSize <= 0 {
		params.LeaderboardSize = 50
	}
	return &Scheduler{
		tracker:    tracker,
		scorer:     scorer,
		aggregator: aggregator,
		generator:  generator,
		ledger:     ledger,
		profiles:   profiles,
		signals:    signals,
		paper:      paperStore,
		archiver:   archiver,
		bus:        bus,
		params:     params,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// Snapshot returns the last consistently exported snapshot, or false when no
// export pass has fully succeeded yet.
func (s *Scheduler) Snapshot() (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return domain.Snapshot{}, false
	}
	return *s.snapshot, true
}

// LastReport returns the report of the most recent export pass.
func (s *Scheduler) LastReport() domain.PassReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// Run starts all loops and blocks until the context is cancelled or a loop
// fails unrecoverably. Component-level failures inside a pass never abort a
// loop; they are graded into the pass report and retried next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("resolution_interval", s.params.ResolutionInterval),
		slog.Duration("scoring_interval", s.params.ScoringInterval),
		slog.Duration("signal_interval", s.params.SignalInterval),
		slog.Duration("paper_interval", s.params.PaperInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.loop(ctx, s.params.ResolutionInterval, s.resolutionPass)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("resolution loop: %w", err)
	})

	g.Go(func() error {
		err := s.loop(ctx, s.params.ScoringInterval, s.scoringPass)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scoring loop: %w", err)
	})

	g.Go(func() error {
		err := s.loop(ctx, s.params.SignalInterval, s.exportPass)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("export loop: %w", err)
	})

	g.Go(func() error {
		err := s.loop(ctx, s.params.PaperInterval, s.paperPass)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("paper loop: %w", err)
	})

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.InfoContext(ctx, "scheduler stopped cleanly")
	return nil
}

// loop runs the pass immediately, then on every tick until cancellation.
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) error {
	pass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func (s *Scheduler) resolutionPass(ctx context.Context) {
	res, err := s.tracker.Sweep(ctx)
	outcome := domain.ComponentOutcome{
		Component: "resolution",
		Status:    domain.OutcomeCompleted,
		Detail: map[string]any{
			"markets_checked": res.MarketsChecked,
			"trades_resolved": res.TradesResolved,
			"failures":        res.Failures,
		},
	}
	switch {
	case err != nil:
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
	case res.Paused || res.Failures > 0:
		outcome.Status = domain.OutcomePartial
	}
	s.reportOutcome(ctx, outcome)
}

func (s *Scheduler) scoringPass(ctx context.Context) {
	res, err := s.scorer.Run(ctx)
	outcome := domain.ComponentOutcome{
		Component: "scoring",
		Status:    domain.OutcomeCompleted,
		Detail: map[string]any{
			"scored":    res.TradersScored,
			"qualified": res.Qualified,
			"skipped":   res.Skipped,
		},
	}
	switch {
	case err != nil:
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
	case res.Skipped > 0:
		outcome.Status = domain.OutcomePartial
	}
	s.reportOutcome(ctx, outcome)
}

func (s *Scheduler) paperPass(ctx context.Context) {
	perf, err := s.ledger.Run(ctx)
	outcome := domain.ComponentOutcome{
		Component: "paper",
		Status:    domain.OutcomeCompleted,
		Detail: map[string]any{
			"open":      perf.OpenCount,
			"closed":    perf.ClosedCount,
			"total_pnl": perf.TotalPnL,
			"degraded":  perf.Degraded,
		},
	}
	if err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		outcome.Detail = nil
	}
	s.reportOutcome(ctx, outcome)
}

// exportPass runs consensus and signal generation, then rebuilds the
// snapshot. The snapshot is swapped in only when every input succeeded, so
// readers always see the last fully consistent view with its timestamp.
func (s *Scheduler) exportPass(ctx context.Context) {
	report := domain.PassReport{StartedAt: time.Now().UTC()}

	cons, err := s.aggregator.Run(ctx)
	report.Outcomes = append(report.Outcomes, gradeOutcome("consensus", err, map[string]any{
		"markets": len(cons),
	}))

	var genRes signal.Result
	if err == nil {
		genRes, err = s.generator.Run(ctx, cons)
		outcome := gradeOutcome("signals", err, map[string]any{
			"created":   genRes.Created,
			"confirmed": genRes.Confirmed,
			"retired":   genRes.Retired,
			"alerts":    genRes.Alerts,
		})
		if err == nil && genRes.SourceErrors > 0 {
			outcome.Status = domain.OutcomePartial
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	snap, snapErr := s.buildSnapshot(ctx, cons)
	report.Outcomes = append(report.Outcomes, gradeOutcome("snapshot", snapErr, map[string]any{
		"active_signals": len(snap.ActiveSignals),
	}))
	report.FinishedAt = time.Now().UTC()
	report.Degraded = snap.Paper.Degraded

	if report.Succeeded() {
		s.mu.Lock()
		s.snapshot = &snap
		s.lastReport = report
		s.mu.Unlock()

		if s.archiver != nil {
			if key, err := s.archiver.Archive(ctx, snap); err != nil {
				s.logger.WarnContext(ctx, "snapshot archive failed",
					slog.String("error", err.Error()),
				)
			} else {
				s.logger.InfoContext(ctx, "snapshot archived", slog.String("key", key))
			}
		}
	} else {
		s.mu.Lock()
		s.lastReport = report
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "export pass incomplete, keeping previous snapshot")
	}

	s.publishReport(ctx, report)
}

// buildSnapshot reads all four collections at one moment so they reflect the
// same computation pass.
func (s *Scheduler) buildSnapshot(ctx context.Context, cons []domain.MarketConsensus) (domain.Snapshot, error) {
	leaderboard, err := s.profiles.Leaderboard(ctx, s.params.LeaderboardSize)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("pipeline: leaderboard: %w", err)
	}
	active, err := s.signals.ListActive(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("pipeline: active signals: %w", err)
	}
	open, err := s.paper.ListOpen(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("pipeline: open paper trades: %w", err)
	}
	closed, err := s.paper.ListClosed(ctx, domain.ListOpts{})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("pipeline: closed paper trades: %w", err)
	}

	now := time.Now().UTC()
	return domain.Snapshot{
		Leaderboard:   leaderboard,
		Consensus:     cons,
		ActiveSignals: active,
		Paper:         paper.ComputePerformance(len(open), closed, s.params.PaperParams, now),
		GeneratedAt:   now,
	}, nil
}

func gradeOutcome(component string, err error, detail map[string]any) domain.ComponentOutcome {
	if err != nil {
		return domain.ComponentOutcome{
			Component: component,
			Status:    domain.OutcomeFailed,
			Error:     err.Error(),
		}
	}
	return domain.ComponentOutcome{
		Component: component,
		Status:    domain.OutcomeCompleted,
		Detail:    detail,
	}
}

// reportOutcome logs a standalone component outcome and publishes it.
func (s *Scheduler) reportOutcome(ctx context.Context, outcome domain.ComponentOutcome) {
	level := slog.LevelInfo
	if outcome.Status != domain.OutcomeCompleted {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "pass finished",
		slog.String("pass", outcome.Component),
		slog.String("status", string(outcome.Status)),
	)

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, passChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "bus publish failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) publishReport(ctx context.Context, report domain.PassReport) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":  "pass_completed",
		"report": report,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, passChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "bus publish failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, passChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
}
