package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/whaletrack/internal/consensus"
	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/notify"
	"github.com/alanyoungcy/whaletrack/internal/paper"
	"github.com/alanyoungcy/whaletrack/internal/pipeline"
	"github.com/alanyoungcy/whaletrack/internal/resolution"
	"github.com/alanyoungcy/whaletrack/internal/scoring"
	"github.com/alanyoungcy/whaletrack/internal/server"
	"github.com/alanyoungcy/whaletrack/internal/server/handler"
	"github.com/alanyoungcy/whaletrack/internal/server/ws"
	"github.com/alanyoungcy/whaletrack/internal/signal"
	"github.com/alanyoungcy/whaletrack/internal/supervisor"
)

// PipelineMode runs the full detection pipeline: resolution sweeps, trader
// scoring, consensus, signal generation, paper trading and snapshot export,
// plus the HTTP API when enabled.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pipeline mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.buildScheduler(deps)
	a.runScheduler(ctx, g, deps, sched)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// BackfillMode runs the historical resolution backfill under supervision. The
// process exits once the backfill run completes, or keeps retrying under the
// supervisor's restart policy when the run pauses or stalls.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backfill mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackfill(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the read-only HTTP + WebSocket API without running any
// pipeline workers. Store-backed endpoints reflect whatever a pipeline
// process (in this or another deployment) has written.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	// With S3 configured, the snapshot endpoint serves the latest archived
	// export from a pipeline deployment; otherwise it responds 503.
	var provider handler.SnapshotProvider = noSnapshot{}
	if deps.BlobReader != nil {
		provider = newArchiveSnapshot(deps.BlobReader, a.cfg.Scheduler.SnapshotPrefix, a.logger)
	}

	a.startHTTPServer(ctx, g, deps, provider)
	return g.Wait()
}

// FullMode runs everything in one process: the pipeline scheduler, the
// supervised backfill, and the HTTP + WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.buildScheduler(deps)
	a.runScheduler(ctx, g, deps, sched)

	a.startBackfill(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// runScheduler adds the scheduler to the errgroup. A fatal scheduler exit is
// pushed to the alert sink before it takes the process down; a cancelled
// context is a clean shutdown.
func (a *App) runScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *pipeline.Scheduler) {
	g.Go(func() error {
		err := sched.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		if err != nil {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if nerr := deps.Notifier.Notify(nctx, notify.EventError, "Pipeline stopped", err.Error()); nerr != nil {
				a.logger.Warn("failed to send pipeline-stopped alert",
					slog.String("error", nerr.Error()),
				)
			}
		}
		return err
	})
}

// buildTracker constructs the resolution tracker shared by scheduler sweeps
// and the backfill run.
func (a *App) buildTracker(deps *Dependencies) *resolution.Tracker {
	return resolution.NewTracker(
		deps.TradeStore,
		deps.Gamma,
		deps.ProgressStore,
		deps.RateLimiter,
		a.cfg.Resolution.MaxConsecutiveFailures,
		a.logger,
	)
}

// buildScheduler wires every pipeline component into the scheduler.
func (a *App) buildScheduler(deps *Dependencies) *pipeline.Scheduler {
	tracker := a.buildTracker(deps)

	scorer := scoring.NewScorer(deps.TradeStore, deps.ProfileStore, scoring.Params{
		MinResolvedTrades: a.cfg.Scoring.MinResolvedTrades,
		FullSampleSize:    a.cfg.Scoring.FullSampleSize,
		WinRateWeight:     a.cfg.Scoring.WinRateWeight,
		PnLWeight:         a.cfg.Scoring.PnLWeight,
		QualifyMinWinRate: a.cfg.Scoring.QualifyMinWinRate,
	}, a.logger)

	aggregator := consensus.NewAggregator(
		deps.TradeStore,
		deps.ProfileStore,
		deps.Gamma,
		deps.PriceCache,
		consensus.Params{
			MinWhales:   a.cfg.Consensus.MinWhales,
			OffsetRatio: a.cfg.Consensus.OffsetRatio,
			MaxSlippage: a.cfg.Consensus.MaxSlippage,
		},
		a.logger,
	)

	// Extra candidate sources alongside whale consensus.
	var sources []signal.CandidateSource
	if deps.Forecast != nil {
		sources = append(sources, signal.NewWeatherSource(
			deps.Forecast,
			deps.Gamma,
			a.cfg.Signals.WeatherTargets,
			signal.WeatherParams{
				EdgeMin:            a.cfg.Signals.WeatherEdgeMin,
				HighConfidenceEdge: a.cfg.Signals.HighConfidenceEdge,
			},
			a.logger,
		))
	}
	sources = append(sources, signal.NewNewMarketSource(deps.Gamma, signal.NewMarketParams{
		MaxAge:    a.cfg.Signals.NewMarketMaxAge.Duration,
		MaxVolume: a.cfg.Signals.NewMarketMaxVolume,
		ScanLimit: a.cfg.Signals.NewMarketScanLimit,
	}, a.logger))

	generator := signal.NewGenerator(
		deps.SignalStore,
		sources,
		deps.Bus,
		deps.Notifier,
		signal.Params{
			MinAvgWinRate:      a.cfg.Signals.MinAvgWinRate,
			HighConfidenceEdge: a.cfg.Signals.HighConfidenceEdge,
			AlertEdgeMin:       a.cfg.Signals.AlertEdgeMin,
			StalenessWindow:    a.cfg.Signals.StalenessWindow.Duration,
		},
		a.logger,
	)

	paperParams := paper.Params{
		Stake:          a.cfg.Paper.Stake,
		StopLossUSD:    a.cfg.Paper.StopLossUSD,
		StopMinWinRate: a.cfg.Paper.StopMinWinRate,
		StopMinSample:  a.cfg.Paper.StopMinSample,
	}
	ledger := paper.NewLedger(
		deps.PaperStore,
		deps.SignalStore,
		deps.Gamma,
		deps.Bus,
		deps.Notifier,
		paperParams,
		a.logger,
	)

	// Keep the interface value nil when no archiver is configured so the
	// scheduler skips archival entirely.
	var archiver pipeline.SnapshotArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}

	return pipeline.NewScheduler(
		tracker,
		scorer,
		aggregator,
		generator,
		ledger,
		deps.ProfileStore,
		deps.SignalStore,
		deps.PaperStore,
		archiver,
		deps.Bus,
		pipeline.Params{
			ResolutionInterval: a.cfg.Scheduler.ResolutionInterval.Duration,
			ScoringInterval:    a.cfg.Scheduler.ScoringInterval.Duration,
			SignalInterval:     a.cfg.Scheduler.SignalInterval.Duration,
			PaperInterval:      a.cfg.Scheduler.PaperInterval.Duration,
			LeaderboardSize:    a.cfg.Scoring.LeaderboardSize,
			PaperParams:        paperParams,
		},
		a.logger,
	)
}

// startBackfill adds the backfill runner and its supervisor to the errgroup.
// The runner executes one backfill; on a pause (upstream outage) it waits for
// the supervisor to request a restart. The supervisor exits once the run's
// progress heartbeats report completion.
func (a *App) startBackfill(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	tracker := a.buildTracker(deps)
	restartCh := make(chan struct{}, 1)

	g.Go(func() error {
		for {
			res, err := tracker.Backfill(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			if err == nil {
				a.logger.InfoContext(ctx, "backfill complete",
					slog.Int("markets_checked", res.MarketsChecked),
					slog.Int("markets_resolved", res.MarketsResolved),
					slog.Int("trades_resolved", res.TradesResolved),
				)
				return nil
			}
			if errors.Is(err, domain.ErrSourceUnavailable) {
				a.logger.WarnContext(ctx, "backfill paused, waiting for restart",
					slog.Int("failures", res.Failures),
					slog.String("error", err.Error()),
				)
			} else {
				a.logger.ErrorContext(ctx, "backfill failed, waiting for restart",
					slog.String("error", err.Error()),
				)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-restartCh:
			}
		}
	})

	restart := func(ctx context.Context) error {
		select {
		case restartCh <- struct{}{}:
		default:
			// A restart is already pending.
		}
		return nil
	}

	sup := supervisor.NewSupervisor(
		deps.ProgressStore,
		deps.LockManager,
		restart,
		deps.Notifier,
		supervisor.Params{
			CheckInterval:  a.cfg.Supervisor.CheckInterval.Duration,
			StallWindow:    a.cfg.Supervisor.StallWindow.Duration,
			RestartLockTTL: a.cfg.Supervisor.RestartLockTTL.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		err := sup.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
}

// startHTTPServer adds the HTTP server, the WebSocket hub, and a graceful
// shutdown watcher to the given errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, provider handler.SnapshotProvider) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:               a.cfg.Server.Port,
			CORSOrigins:        a.cfg.Server.CORSOrigins,
			APIKey:             a.cfg.Server.APIKey,
			RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(a.logger),
			Snapshot:    handler.NewSnapshotHandler(provider, a.logger),
			Leaderboard: handler.NewLeaderboardHandler(deps.ProfileStore, a.logger),
			Signals:     handler.NewSignalHandler(deps.SignalStore, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		err := srv.Start()
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// noSnapshot backs the snapshot endpoints in server mode, where no scheduler
// runs in-process. Clients get 503 until they hit a pipeline deployment.
type noSnapshot struct{}

func (noSnapshot) Snapshot() (domain.Snapshot, bool) { return domain.Snapshot{}, false }
func (noSnapshot) LastReport() domain.PassReport     { return domain.PassReport{} }
