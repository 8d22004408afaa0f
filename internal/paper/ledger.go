// Package paper maintains the simulated validation ledger: one fixed-stake
// position per signal, closed against real market outcomes, with aggregates
// recomputed from the full closed history on every pass.
package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/notify"
)

// paperChannel carries paper-trade lifecycle events on the bus.
const paperChannel = "paper"

// Params tunes stake sizing and the stop-condition.
type Params struct {
	// Stake is the fixed size of every paper position.
	Stake float64
	// StopLossUSD is the cumulative loss ceiling. Crossing it flags the
	// system degraded; the pipeline keeps running.
	StopLossUSD float64
	// StopMinWinRate is the win-rate floor, checked only once the closed
	// sample reaches StopMinSample.
	StopMinWinRate float64
	StopMinSample  int
}

// Alerter is the outbound alert sink, satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Ledger owns the paper-trade lifecycle end to end: it is the only opener
// and the only closer.
type Ledger struct {
	paper   domain.PaperTradeStore
	signals domain.SignalStore
	source  domain.MarketDataSource
	bus     domain.EventBus
	alerter Alerter
	logger  *slog.Logger
	params  Params

	wasDegraded bool
}

// NewLedger creates a Ledger. bus and alerter may be nil.
func NewLedger(
	paper domain.PaperTradeStore,
	signals domain.SignalStore,
	source domain.MarketDataSource,
	bus domain.EventBus,
	alerter Alerter,
	params Params,
	logger *slog.Logger,
) *Ledger {
	if params.Stake <= 0 {
		params.Stake = 100
	}
	return &Ledger{
		paper:   paper,
		signals: signals,
		source:  source,
		bus:     bus,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "paper_ledger")),
		params:  params,
	}
}

// Run executes one ledger pass: open positions for unseen signals, close
// positions whose markets resolved, then recompute performance from the full
// closed history.
func (l *Ledger) Run(ctx context.Context) (domain.PaperPerformance, error) {
	if err := l.openNew(ctx); err != nil {
		return domain.PaperPerformance{}, err
	}
	if err := l.closeResolved(ctx); err != nil {
		return domain.PaperPerformance{}, err
	}

	open, err := l.paper.ListOpen(ctx)
	if err != nil {
		return domain.PaperPerformance{}, fmt.Errorf("paper: list open: %w", err)
	}
	closed, err := l.paper.ListClosed(ctx, domain.ListOpts{})
	if err != nil {
		return domain.PaperPerformance{}, fmt.Errorf("paper: list closed: %w", err)
	}

	perf := ComputePerformance(len(open), closed, l.params, time.Now().UTC())

	if perf.Degraded && !l.wasDegraded {
		l.logger.ErrorContext(ctx, "paper performance degraded",
			slog.Float64("total_pnl", perf.TotalPnL),
			slog.Float64("win_rate", perf.WinRate),
			slog.Int("closed", perf.ClosedCount),
		)
		if l.alerter != nil {
			msg := fmt.Sprintf("total PnL %.2f, win rate %.1f%% over %d closed trades",
				perf.TotalPnL, perf.WinRate*100, perf.ClosedCount)
			if err := l.alerter.Notify(ctx, notify.EventPaperDegraded, "Paper trading degraded", msg); err != nil {
				l.logger.WarnContext(ctx, "degraded alert failed", slog.String("error", err.Error()))
			}
		}
	}
	l.wasDegraded = perf.Degraded

	return perf, nil
}

// openNew opens one position per active signal that does not have one yet.
// The store's dedup-key uniqueness makes re-opening a silent no-op, so a
// reconfirmed signal never doubles up.
func (l *Ledger) openNew(ctx context.Context) error {
	active, err := l.signals.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("paper: list active signals: %w", err)
	}

	now := time.Now().UTC()
	for _, sig := range active {
		if ctx.Err() != nil {
			return fmt.Errorf("paper: open: %w", ctx.Err())
		}

		entry, err := l.entryPrice(ctx, sig)
		if err != nil {
			l.logger.WarnContext(ctx, "entry price unavailable",
				slog.String("market_id", sig.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if entry <= 0 || entry >= 1 {
			continue
		}

		pt := domain.PaperTrade{
			ID:         uuid.New().String(),
			SignalKey:  sig.Key(),
			MarketID:   sig.MarketID,
			Side:       sig.Side,
			Stake:      l.params.Stake,
			EntryPrice: entry,
			OpenedAt:   now,
			Resolution: domain.Unresolved,
		}
		inserted, err := l.paper.Open(ctx, pt)
		if err != nil {
			return fmt.Errorf("paper: open %s: %w", pt.SignalKey, err)
		}
		if inserted {
			l.publish(ctx, "paper_opened", pt, nil)
		}
	}
	return nil
}

// entryPrice resolves the side-adjusted current price for a signal's market.
func (l *Ledger) entryPrice(ctx context.Context, sig domain.Signal) (float64, error) {
	yes, err := l.source.GetPrice(ctx, sig.MarketID)
	if err != nil {
		return 0, err
	}
	if sig.Side == domain.SideNo {
		return 1 - yes, nil
	}
	return yes, nil
}

// closeResolved settles every open position whose market has resolved.
// Lookup failures are logged and retried next pass.
func (l *Ledger) closeResolved(ctx context.Context) error {
	open, err := l.paper.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("paper: list open: %w", err)
	}

	// One resolution lookup per market, not per position.
	resolutions := map[string]*domain.MarketResolution{}
	now := time.Now().UTC()

	for _, pt := range open {
		if ctx.Err() != nil {
			return fmt.Errorf("paper: close: %w", ctx.Err())
		}

		mr, ok := resolutions[pt.MarketID]
		if !ok {
			res, err := l.source.GetResolution(ctx, pt.MarketID)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					l.logger.WarnContext(ctx, "resolution lookup failed",
						slog.String("market_id", pt.MarketID),
						slog.String("error", err.Error()),
					)
				}
				resolutions[pt.MarketID] = nil
				continue
			}
			mr = &res
			resolutions[pt.MarketID] = mr
		}
		if mr == nil || !mr.Resolved {
			continue
		}

		status := mr.TradeOutcome(pt.Side)
		pnl := domain.SettlementPnL(status, pt.Stake, pt.EntryPrice)
		if err := l.paper.Close(ctx, pt.ID, status, pnl, now); err != nil {
			return fmt.Errorf("paper: close %s: %w", pt.ID, err)
		}
		l.publish(ctx, "paper_closed", pt, &pnl)
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, event string, pt domain.PaperTrade, pnl *float64) {
	if l.bus == nil {
		return
	}
	body := map[string]any{
		"event":      event,
		"signal_key": pt.SignalKey,
		"market_id":  pt.MarketID,
		"side":       pt.Side,
		"stake":      pt.Stake,
	}
	if pnl != nil {
		body["pnl"] = *pnl
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, paperChannel, payload); err != nil {
		l.logger.WarnContext(ctx, "bus publish failed", slog.String("error", err.Error()))
	}
}

// ComputePerformance folds the full closed history into the aggregate view.
// It is a pure function: no running means are kept between passes, so a
// restarted process always reproduces the same numbers. closed must be
// ordered by close time for a path-correct drawdown.
func ComputePerformance(openCount int, closed []domain.PaperTrade, params Params, now time.Time) domain.PaperPerformance {
	perf := domain.PaperPerformance{
		OpenCount:   openCount,
		ClosedCount: len(closed),
		ComputedAt:  now,
	}

	returns := make([]float64, 0, len(closed))
	var equity, peak float64

	for _, pt := range closed {
		if pt.PnL == nil {
			continue
		}
		pnl := *pt.PnL
		perf.TotalPnL += pnl

		switch pt.Resolution {
		case domain.ResolvedWin:
			perf.Wins++
		case domain.ResolvedLoss:
			perf.Losses++
		case domain.ResolvedVoid:
			perf.Voids++
		}
		if pt.Resolution != domain.ResolvedVoid && pt.Stake > 0 {
			returns = append(returns, pnl/pt.Stake)
		}

		equity += pnl
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > perf.MaxDrawdown {
			perf.MaxDrawdown = dd
		}
	}

	decided := perf.Wins + perf.Losses
	if decided > 0 {
		perf.WinRate = float64(perf.Wins) / float64(decided)
	}

	if len(returns) > 1 {
		var mean float64
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))

		var variance float64
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(returns) - 1)
		perf.ReturnVolatility = math.Sqrt(variance)

		if perf.ReturnVolatility > 0 {
			perf.SharpeRatio = mean / perf.ReturnVolatility
		}
	}

	lossCeilingHit := params.StopLossUSD > 0 && perf.TotalPnL <= -params.StopLossUSD
	winRateFloorHit := decided >= params.StopMinSample && perf.WinRate < params.StopMinWinRate
	perf.Degraded = lossCeilingHit || winRateFloorHit

	return perf
}
