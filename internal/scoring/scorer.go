// Package scoring derives trader skill profiles from resolved trade history.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// Params tunes the skill score and the qualification bar.
type Params struct {
	// MinResolvedTrades is the minimum resolved history before a trader is
	// scored at all.
	MinResolvedTrades int
	// FullSampleSize is the resolved count at which the sample-size damping
	// factor reaches 1.
	FullSampleSize int
	// WinRateWeight and PnLWeight blend win rate and normalized PnL into the
	// score. They are renormalized to sum to 1.
	WinRateWeight float64
	PnLWeight     float64
	// QualifyMinWinRate is the win-rate bar for the qualified whale set.
	QualifyMinWinRate float64
}

// Scorer recomputes trader profiles from scratch on every pass. Profiles are
// a pure function of the resolved trade history, so two passes over the same
// data always produce identical profiles.
type Scorer struct {
	trades   domain.TradeStore
	profiles domain.TraderProfileStore
	logger   *slog.Logger
	params   Params
}

// NewScorer creates a Scorer.
func NewScorer(trades domain.TradeStore, profiles domain.TraderProfileStore, params Params, logger *slog.Logger) *Scorer {
	if params.MinResolvedTrades <= 0 {
		params.MinResolvedTrades = 10
	}
	if params.FullSampleSize < params.MinResolvedTrades {
		params.FullSampleSize = params.MinResolvedTrades
	}
	return &Scorer{
		trades:   trades,
		profiles: profiles,
		logger:   logger.With(slog.String("component", "scorer")),
		params:   params,
	}
}

// Result summarizes one scoring pass.
type Result struct {
	TradersScored int
	Qualified     int
	Skipped       int // traders excluded for inconsistent data
}

// Run scores every trader with enough resolved history and upserts the
// resulting profiles. Traders whose history contains inconsistent rows (a
// resolved trade with no PnL) are skipped and logged rather than failing the
// pass.
func (s *Scorer) Run(ctx context.Context) (Result, error) {
	var res Result

	traderIDs, err := s.trades.TraderIDsWithResolved(ctx, s.params.MinResolvedTrades)
	if err != nil {
		return res, fmt.Errorf("scoring: list traders: %w", err)
	}

	profiles := make([]domain.TraderProfile, 0, len(traderIDs))
	now := time.Now().UTC()

	for _, traderID := range traderIDs {
		if ctx.Err() != nil {
			return res, fmt.Errorf("scoring: %w", ctx.Err())
		}

		history, err := s.trades.ListResolvedByTrader(ctx, traderID, domain.ListOpts{})
		if err != nil {
			return res, fmt.Errorf("scoring: history for %s: %w", traderID, err)
		}

		profile, err := s.Score(traderID, history, now)
		if err != nil {
			res.Skipped++
			s.logger.WarnContext(ctx, "trader excluded from scoring",
				slog.String("trader_id", traderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		profiles = append(profiles, profile)
		res.TradersScored++
		if profile.Qualified {
			res.Qualified++
		}
	}

	if len(profiles) > 0 {
		if err := s.profiles.UpsertBatch(ctx, profiles); err != nil {
			return res, fmt.Errorf("scoring: upsert profiles: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "scoring pass finished",
		slog.Int("scored", res.TradersScored),
		slog.Int("qualified", res.Qualified),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Score folds one trader's resolved history into a profile. The history is
// sorted by resolution time before folding so drawdown is path-correct
// regardless of input order. It returns ErrDataInconsistent (wrapped) when a
// resolved trade is missing its PnL.
func (s *Scorer) Score(traderID string, history []domain.Trade, now time.Time) (domain.TraderProfile, error) {
	p := domain.TraderProfile{
		TraderID:  traderID,
		UpdatedAt: now,
	}

	sorted := make([]domain.Trade, 0, len(history))
	for _, t := range history {
		if !t.Resolved() {
			continue
		}
		if t.PnL == nil {
			return p, fmt.Errorf("scoring: trade %d resolved without pnl: %w", t.ID, domain.ErrDataInconsistent)
		}
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := sorted[i], sorted[j]
		ri, rj := ti.EntryTime, tj.EntryTime
		if ti.ResolvedAt != nil {
			ri = *ti.ResolvedAt
		}
		if tj.ResolvedAt != nil {
			rj = *tj.ResolvedAt
		}
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return ti.ID < tj.ID
	})

	var (
		grossProfit, grossLoss float64
		equity, peak, maxDD    float64
		catWins                = map[string]int{}
		catDecided             = map[string]int{}
		totalStaked            float64
	)

	for _, t := range sorted {
		pnl := *t.PnL
		p.ResolvedCount++
		p.RealizedPnL += pnl
		totalStaked += t.Size

		switch t.Resolution {
		case domain.ResolvedWin:
			p.Wins++
			grossProfit += pnl
			if t.Category != "" {
				catWins[t.Category]++
				catDecided[t.Category]++
			}
		case domain.ResolvedLoss:
			p.Losses++
			grossLoss += -pnl
			if t.Category != "" {
				catDecided[t.Category]++
			}
		case domain.ResolvedVoid:
			p.Voids++
		}

		equity += pnl
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}

	if p.ResolvedCount < s.params.MinResolvedTrades {
		return p, fmt.Errorf("scoring: trader %s has %d resolved trades, need %d",
			traderID, p.ResolvedCount, s.params.MinResolvedTrades)
	}

	p.MaxDrawdown = maxDD
	switch {
	case grossLoss > 0:
		p.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		p.ProfitFactor = math.Inf(1)
	}
	// JSONB cannot store infinities; clamp to a large finite sentinel.
	if math.IsInf(p.ProfitFactor, 1) {
		p.ProfitFactor = 1000
	}

	if len(catDecided) > 0 {
		p.CategoryWinRates = make(map[string]float64, len(catDecided))
		for cat, decided := range catDecided {
			p.CategoryWinRates[cat] = float64(catWins[cat]) / float64(decided)
		}
	}

	p.SkillScore = s.skillScore(p, totalStaked)
	p.Qualified = p.WinRate() >= s.params.QualifyMinWinRate && p.RealizedPnL > 0

	return p, nil
}

// skillScore blends win rate with return on stake, damped by sample size so
// a lucky short history cannot outrank a long consistent one.
func (s *Scorer) skillScore(p domain.TraderProfile, totalStaked float64) float64 {
	wSum := s.params.WinRateWeight + s.params.PnLWeight
	if wSum <= 0 {
		return 0
	}
	wWin := s.params.WinRateWeight / wSum
	wPnL := s.params.PnLWeight / wSum

	// Return on total stake, squashed into [0, 1] around 0.5 for zero return.
	pnlNorm := 0.5
	if totalStaked > 0 {
		pnlNorm = 0.5 + 0.5*math.Tanh(p.RealizedPnL/totalStaked)
	}

	damp := math.Min(1, float64(p.ResolvedCount)/float64(s.params.FullSampleSize))
	return (wWin*p.WinRate() + wPnL*pnlNorm) * damp
}
