// Package consensus groups qualified traders' open positions into per-market
// consensus views. The aggregation is a pure transform over a snapshot of
// open trades, the qualified-trader set and current prices; nothing here is
// persisted or mutated incrementally.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// Params tunes consensus qualification.
type Params struct {
	// MinWhales is the minimum distinct qualified traders on the majority
	// side for a market to qualify.
	MinWhales int
	// OffsetRatio is the maximum opposite-side qualified weight relative to
	// the majority weight. Opposite positions under this ratio are treated
	// as hedging noise and ignored; above it the split is read as genuine
	// divergence and the market does not qualify.
	OffsetRatio float64
	// MaxSlippage excludes markets whose current price has decayed past the
	// majority's average entry by more than this fraction.
	MaxSlippage float64
}

// Aggregator assembles the inputs for each pass and runs the pure
// aggregation over them.
type Aggregator struct {
	trades   domain.TradeStore
	profiles domain.TraderProfileStore
	source   domain.MarketDataSource
	prices   domain.PriceCache
	logger   *slog.Logger
	params   Params
}

// NewAggregator creates an Aggregator. prices may be nil to bypass the cache
// and always hit the source.
func NewAggregator(
	trades domain.TradeStore,
	profiles domain.TraderProfileStore,
	source domain.MarketDataSource,
	prices domain.PriceCache,
	params Params,
	logger *slog.Logger,
) *Aggregator {
	if params.MinWhales <= 0 {
		params.MinWhales = 3
	}
	return &Aggregator{
		trades:   trades,
		profiles: profiles,
		source:   source,
		prices:   prices,
		logger:   logger.With(slog.String("component", "consensus")),
		params:   params,
	}
}

// Run computes the consensus list for the current snapshot of open trades.
func (a *Aggregator) Run(ctx context.Context) ([]domain.MarketConsensus, error) {
	qualified, err := a.profiles.ListQualified(ctx)
	if err != nil {
		return nil, fmt.Errorf("consensus: list qualified traders: %w", err)
	}
	if len(qualified) == 0 {
		return nil, nil
	}
	byTrader := make(map[string]domain.TraderProfile, len(qualified))
	for _, p := range qualified {
		byTrader[p.TraderID] = p
	}

	open, err := a.trades.ListUnresolved(ctx, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("consensus: list open trades: %w", err)
	}

	marketIDs := make([]string, 0)
	seen := map[string]bool{}
	for _, t := range open {
		if _, ok := byTrader[t.TraderID]; !ok {
			continue
		}
		if !seen[t.MarketID] {
			seen[t.MarketID] = true
			marketIDs = append(marketIDs, t.MarketID)
		}
	}

	prices := a.currentPrices(ctx, marketIDs)

	return Aggregate(open, byTrader, prices, a.params, time.Now().UTC()), nil
}

// currentPrices resolves the current YES price per market, preferring the
// cache and falling back to the source. Markets whose price cannot be
// determined are simply absent from the result; the aggregation treats them
// as unverifiable and leaves them unqualified.
func (a *Aggregator) currentPrices(ctx context.Context, marketIDs []string) map[string]float64 {
	prices := make(map[string]float64, len(marketIDs))
	for _, id := range marketIDs {
		if a.prices != nil {
			if p, _, err := a.prices.GetPrice(ctx, id); err == nil && p > 0 {
				prices[id] = p
				continue
			}
		}
		p, err := a.source.GetPrice(ctx, id)
		if err != nil {
			a.logger.WarnContext(ctx, "price lookup failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices[id] = p
		if a.prices != nil {
			if err := a.prices.SetPrice(ctx, id, p, time.Now().UTC()); err != nil {
				a.logger.WarnContext(ctx, "price cache write failed",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return prices
}

// traderPosition is one qualified trader's total exposure on one side.
type traderPosition struct {
	size          float64
	weightedEntry float64 // sum(size * entry)
}

// Aggregate is the pure consensus computation. Open trades by unqualified
// traders are ignored entirely. prices maps market ID to the current YES
// price; markets missing from it are emitted unqualified because entry decay
// cannot be checked.
func Aggregate(
	open []domain.Trade,
	qualified map[string]domain.TraderProfile,
	prices map[string]float64,
	params Params,
	now time.Time,
) []domain.MarketConsensus {
	type sideAcc struct {
		positions map[string]*traderPosition // by trader
	}
	type marketAcc struct {
		yes, no sideAcc
	}

	markets := map[string]*marketAcc{}
	for _, t := range open {
		if _, ok := qualified[t.TraderID]; !ok {
			continue
		}
		m := markets[t.MarketID]
		if m == nil {
			m = &marketAcc{
				yes: sideAcc{positions: map[string]*traderPosition{}},
				no:  sideAcc{positions: map[string]*traderPosition{}},
			}
			markets[t.MarketID] = m
		}
		acc := &m.yes
		if t.Side == domain.SideNo {
			acc = &m.no
		}
		pos := acc.positions[t.TraderID]
		if pos == nil {
			pos = &traderPosition{}
			acc.positions[t.TraderID] = pos
		}
		pos.size += t.Size
		pos.weightedEntry += t.Size * t.EntryPrice
	}

	out := make([]domain.MarketConsensus, 0, len(markets))
	for marketID, m := range markets {
		mc := domain.MarketConsensus{
			MarketID:   marketID,
			Yes:        foldSide(m.yes.positions, qualified),
			No:         foldSide(m.no.positions, qualified),
			ComputedAt: now,
		}

		mc.MajoritySide = domain.SideYes
		if mc.No.Weight > mc.Yes.Weight ||
			(mc.No.Weight == mc.Yes.Weight && mc.No.Count > mc.Yes.Count) {
			mc.MajoritySide = domain.SideNo
		}

		maj, opp := mc.Majority(), mc.Minority()

		offsetOK := maj.Weight > 0 &&
			(opp.Weight == 0 || opp.Weight/maj.Weight <= params.OffsetRatio)

		yesPrice, havePrice := prices[marketID]
		if havePrice {
			mc.CurrentPrice = sidePrice(yesPrice, mc.MajoritySide)
			if maj.AvgEntry > 0 {
				mc.Slippage = (mc.CurrentPrice - maj.AvgEntry) / maj.AvgEntry
			}
		}

		mc.Qualified = maj.Count >= params.MinWhales &&
			offsetOK &&
			havePrice &&
			mc.Slippage <= params.MaxSlippage

		out = append(out, mc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// foldSide collapses per-trader positions into the side summary.
func foldSide(positions map[string]*traderPosition, qualified map[string]domain.TraderProfile) domain.ConsensusSide {
	var side domain.ConsensusSide
	var weightedEntry, winRateSum float64
	for traderID, pos := range positions {
		side.Count++
		side.Weight += pos.size
		weightedEntry += pos.weightedEntry
		winRateSum += qualified[traderID].WinRate()
	}
	if side.Weight > 0 {
		side.AvgEntry = weightedEntry / side.Weight
	}
	if side.Count > 0 {
		side.AvgWinRate = winRateSum / float64(side.Count)
	}
	return side
}

// sidePrice converts the market's YES price into the given side's price.
func sidePrice(yesPrice float64, side domain.Side) float64 {
	if side == domain.SideNo {
		return 1 - yesPrice
	}
	return yesPrice
}
