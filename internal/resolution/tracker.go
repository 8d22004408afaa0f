// Package resolution settles observed trades against upstream market
// outcomes. It is the only writer of trade resolution fields.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// gammaRateKey is the rate-limiter key shared by all Gamma API callers.
const gammaRateKey = "polymarket:gamma"

// SweepResult summarizes one resolution pass.
type SweepResult struct {
	MarketsChecked  int
	MarketsResolved int
	TradesResolved  int
	Failures        int
	// Paused is set when the pass stopped early after too many consecutive
	// source failures. Unswept markets are retried on the next tick.
	Paused bool
}

// Tracker sweeps unresolved trades, asks the market data source whether their
// markets have settled, and marks each affected trade exactly once.
type Tracker struct {
	trades   domain.TradeStore
	source   domain.MarketDataSource
	progress domain.BackfillProgressStore
	limiter  domain.RateLimiter
	logger   *slog.Logger

	maxConsecutiveFailures int
}

// NewTracker creates a Tracker. limiter may be nil, in which case source
// calls are not throttled.
func NewTracker(
	trades domain.TradeStore,
	source domain.MarketDataSource,
	progress domain.BackfillProgressStore,
	limiter domain.RateLimiter,
	maxConsecutiveFailures int,
	logger *slog.Logger,
) *Tracker {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 10
	}
	return &Tracker{
		trades:                 trades,
		source:                 source,
		progress:               progress,
		limiter:                limiter,
		maxConsecutiveFailures: maxConsecutiveFailures,
		logger:                 logger.With(slog.String("component", "resolution_tracker")),
	}
}

// Sweep runs one resolution pass over every market that still has unresolved
// trades. Re-running a sweep over already-settled trades performs zero
// writes: MarkResolved only transitions rows still in the unresolved state.
func (t *Tracker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	marketIDs, err := t.trades.UnresolvedMarketIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("resolution: list unresolved markets: %w", err)
	}
	if len(marketIDs) == 0 {
		return res, nil
	}

	consecutive := 0
	for _, marketID := range marketIDs {
		if ctx.Err() != nil {
			return res, fmt.Errorf("resolution: sweep: %w", ctx.Err())
		}

		resolved, n, err := t.checkMarket(ctx, marketID)
		res.MarketsChecked++
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// The upstream no longer knows this market. Leave its
				// trades unresolved; a definitive 404 is not an outage.
				t.logger.WarnContext(ctx, "market not found upstream",
					slog.String("market_id", marketID),
				)
				consecutive = 0
				continue
			}
			res.Failures++
			consecutive++
			t.logger.WarnContext(ctx, "resolution check failed",
				slog.String("market_id", marketID),
				slog.Int("consecutive", consecutive),
				slog.String("error", err.Error()),
			)
			if consecutive >= t.maxConsecutiveFailures {
				res.Paused = true
				t.logger.ErrorContext(ctx, "pausing sweep after consecutive source failures",
					slog.Int("failures", consecutive),
				)
				return res, nil
			}
			continue
		}

		consecutive = 0
		if resolved {
			res.MarketsResolved++
			res.TradesResolved += n
		}
	}

	return res, nil
}

// Backfill runs a full resolution pass with progress heartbeats so the
// supervisor can detect stalls. Progress counters only grow within a run;
// a restart starts a new run over whatever is still unresolved, so work
// already settled is naturally skipped.
func (t *Tracker) Backfill(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	marketIDs, err := t.trades.UnresolvedMarketIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("resolution: backfill list markets: %w", err)
	}

	runID := uuid.New().String()
	prog := domain.BackfillProgress{
		RunID:     runID,
		Total:     int64(len(marketIDs)),
		UpdatedAt: time.Now().UTC(),
	}
	if err := t.progress.Save(ctx, prog); err != nil {
		return res, fmt.Errorf("resolution: backfill initial heartbeat: %w", err)
	}

	t.logger.InfoContext(ctx, "backfill started",
		slog.String("run_id", runID),
		slog.Int("markets", len(marketIDs)),
	)

	consecutive := 0
	for _, marketID := range marketIDs {
		if ctx.Err() != nil {
			return res, fmt.Errorf("resolution: backfill: %w", ctx.Err())
		}

		resolved, n, err := t.checkMarket(ctx, marketID)
		res.MarketsChecked++
		switch {
		case err == nil:
			consecutive = 0
			if resolved {
				res.MarketsResolved++
				res.TradesResolved += n
			}
		case errors.Is(err, domain.ErrNotFound):
			consecutive = 0
		default:
			res.Failures++
			consecutive++
			t.logger.WarnContext(ctx, "backfill check failed",
				slog.String("market_id", marketID),
				slog.Int("consecutive", consecutive),
				slog.String("error", err.Error()),
			)
		}

		prog.Checked = int64(res.MarketsChecked)
		prog.Resolved = int64(res.TradesResolved)
		prog.UpdatedAt = time.Now().UTC()
		if err := t.progress.Save(ctx, prog); err != nil {
			t.logger.WarnContext(ctx, "backfill heartbeat failed",
				slog.String("error", err.Error()),
			)
		}

		if consecutive >= t.maxConsecutiveFailures {
			res.Paused = true
			return res, fmt.Errorf("resolution: backfill paused after %d consecutive failures: %w",
				consecutive, domain.ErrSourceUnavailable)
		}
	}

	t.logger.InfoContext(ctx, "backfill finished",
		slog.String("run_id", runID),
		slog.Int("markets_checked", res.MarketsChecked),
		slog.Int("trades_resolved", res.TradesResolved),
	)
	return res, nil
}

// checkMarket fetches one market's resolution and, if it settled, marks every
// unresolved trade on that market. It returns whether the market settled and
// how many trades were marked.
func (t *Tracker) checkMarket(ctx context.Context, marketID string) (bool, int, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, gammaRateKey); err != nil {
			return false, 0, fmt.Errorf("resolution: rate limit: %w", err)
		}
	}

	mr, err := t.source.GetResolution(ctx, marketID)
	if err != nil {
		return false, 0, err
	}
	if !mr.Resolved {
		return false, 0, nil
	}

	open, err := t.trades.ListUnresolvedByMarket(ctx, marketID)
	if err != nil {
		return true, 0, fmt.Errorf("resolution: list trades for %s: %w", marketID, err)
	}

	now := time.Now().UTC()
	marked := 0
	for _, tr := range open {
		status := mr.TradeOutcome(tr.Side)
		pnl := domain.SettlementPnL(status, tr.Size, tr.EntryPrice)
		if err := t.trades.MarkResolved(ctx, tr.ID, status, pnl, now); err != nil {
			return true, marked, fmt.Errorf("resolution: mark trade %d: %w", tr.ID, err)
		}
		marked++
	}

	t.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", marketID),
		slog.Bool("void", mr.Void),
		slog.Int("trades_resolved", marked),
	)
	return true, marked, nil
}
