package scoring

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

func testParams() Params {
	return Params{
		MinResolvedTrades: 3,
		FullSampleSize:    10,
		WinRateWeight:     0.7,
		PnLWeight:         0.3,
		QualifyMinWinRate: 0.55,
	}
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScorer(nil, nil, testParams(), logger)
}

func resolvedTrade(id int64, cat string, status domain.ResolutionStatus, size, entry float64, at time.Time) domain.Trade {
	pnl := domain.SettlementPnL(status, size, entry)
	return domain.Trade{
		ID:         id,
		TraderID:   "whale-1",
		MarketID:   "mkt",
		Category:   cat,
		Side:       domain.SideYes,
		Size:       size,
		EntryPrice: entry,
		EntryTime:  at.Add(-time.Hour),
		Resolution: status,
		PnL:        &pnl,
		ResolvedAt: &at,
	}
}

func TestScoreCountsOutcomesAndPnL(t *testing.T) {
	s := newTestScorer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	history := []domain.Trade{
		resolvedTrade(1, "sports", domain.ResolvedWin, 100, 0.50, base),               // +100
		resolvedTrade(2, "sports", domain.ResolvedLoss, 100, 0.50, base.Add(time.Hour)), // -100
		resolvedTrade(3, "crypto", domain.ResolvedWin, 100, 0.25, base.Add(2*time.Hour)), // +300
		resolvedTrade(4, "crypto", domain.ResolvedVoid, 100, 0.50, base.Add(3*time.Hour)), // 0
	}

	p, err := s.Score("whale-1", history, base.Add(4*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, p.Wins)
	assert.Equal(t, 1, p.Losses)
	assert.Equal(t, 1, p.Voids)
	assert.Equal(t, 4, p.ResolvedCount)
	assert.InDelta(t, 300.0, p.RealizedPnL, 1e-9)
	assert.InDelta(t, 2.0/3.0, p.WinRate(), 1e-9)
	assert.InDelta(t, 4.0, p.ProfitFactor, 1e-9) // 400 profit / 100 loss
	assert.InDelta(t, 1.0, p.CategoryWinRates["crypto"], 1e-9)
	assert.InDelta(t, 0.5, p.CategoryWinRates["sports"], 1e-9)
}

func TestScoreMaxDrawdownIsPathDependent(t *testing.T) {
	s := newTestScorer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Equity path: +100, -100, -100, +300 => peak 100, trough -100, dd 200.
	history := []domain.Trade{
		resolvedTrade(1, "", domain.ResolvedWin, 100, 0.50, base),
		resolvedTrade(2, "", domain.ResolvedLoss, 100, 0.50, base.Add(time.Hour)),
		resolvedTrade(3, "", domain.ResolvedLoss, 100, 0.50, base.Add(2*time.Hour)),
		resolvedTrade(4, "", domain.ResolvedWin, 100, 0.25, base.Add(3*time.Hour)),
	}

	p, err := s.Score("whale-1", history, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 200.0, p.MaxDrawdown, 1e-9)
}

func TestScoreIsDeterministicUnderInputOrder(t *testing.T) {
	s := newTestScorer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	history := []domain.Trade{
		resolvedTrade(1, "", domain.ResolvedWin, 100, 0.50, base),
		resolvedTrade(2, "", domain.ResolvedLoss, 100, 0.50, base.Add(time.Hour)),
		resolvedTrade(3, "", domain.ResolvedLoss, 100, 0.50, base.Add(2*time.Hour)),
		resolvedTrade(4, "", domain.ResolvedWin, 100, 0.25, base.Add(3*time.Hour)),
	}
	reversed := []domain.Trade{history[3], history[2], history[1], history[0]}

	now := base.Add(4 * time.Hour)
	a, err := s.Score("whale-1", history, now)
	require.NoError(t, err)
	b, err := s.Score("whale-1", reversed, now)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestScoreRejectsResolvedTradeWithoutPnL(t *testing.T) {
	s := newTestScorer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	broken := resolvedTrade(1, "", domain.ResolvedWin, 100, 0.50, base)
	broken.PnL = nil

	_, err := s.Score("whale-1", []domain.Trade{
		broken,
		resolvedTrade(2, "", domain.ResolvedWin, 100, 0.50, base.Add(time.Hour)),
		resolvedTrade(3, "", domain.ResolvedWin, 100, 0.50, base.Add(2*time.Hour)),
	}, base.Add(3*time.Hour))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataInconsistent)
}

func TestScoreSampleSizeDampsShortHistories(t *testing.T) {
	s := newTestScorer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Three wins out of three: a perfect but tiny record.
	short := []domain.Trade{
		resolvedTrade(1, "", domain.ResolvedWin, 100, 0.50, base),
		resolvedTrade(2, "", domain.ResolvedWin, 100, 0.50, base.Add(time.Hour)),
		resolvedTrade(3, "", domain.ResolvedWin, 100, 0.50, base.Add(2*time.Hour)),
	}
	// Ten trades, eight wins: worse rate, full sample.
	long := make([]domain.Trade, 0, 10)
	for i := 0; i < 10; i++ {
		status := domain.ResolvedWin
		if i >= 8 {
			status = domain.ResolvedLoss
		}
		long = append(long, resolvedTrade(int64(10+i), "", status, 100, 0.50, base.Add(time.Duration(i)*time.Hour)))
	}

	now := base.Add(24 * time.Hour)
	shortP, err := s.Score("short", short, now)
	require.NoError(t, err)
	longP, err := s.Score("long", long, now)
	require.NoError(t, err)

	assert.Greater(t, longP.SkillScore, shortP.SkillScore)
}

func TestQualificationRequiresWinRateAndProfit(t *testing.T) {
	s := newTestScorer(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// 60% win rate but every win is tiny and every loss large: net negative.
	history := []domain.Trade{
		resolvedTrade(1, "", domain.ResolvedWin, 10, 0.90, base),   // +1.11
		resolvedTrade(2, "", domain.ResolvedWin, 10, 0.90, base.Add(time.Hour)),
		resolvedTrade(3, "", domain.ResolvedWin, 10, 0.90, base.Add(2*time.Hour)),
		resolvedTrade(4, "", domain.ResolvedLoss, 100, 0.50, base.Add(3*time.Hour)), // -100
		resolvedTrade(5, "", domain.ResolvedLoss, 100, 0.50, base.Add(4*time.Hour)),
	}

	p, err := s.Score("whale-1", history, base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.6, p.WinRate(), 1e-9)
	assert.Negative(t, p.RealizedPnL)
	assert.False(t, p.Qualified, "losing traders must not qualify regardless of win rate")
}
