package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

func qualifiedSet(ids ...string) map[string]domain.TraderProfile {
	m := make(map[string]domain.TraderProfile, len(ids))
	for _, id := range ids {
		m[id] = domain.TraderProfile{TraderID: id, Wins: 7, Losses: 3, ResolvedCount: 10, Qualified: true}
	}
	return m
}

func openTrade(trader, market string, side domain.Side, size, entry float64) domain.Trade {
	return domain.Trade{
		TraderID:   trader,
		MarketID:   market,
		Side:       side,
		Size:       size,
		EntryPrice: entry,
		Resolution: domain.Unresolved,
	}
}

func defaultParams() Params {
	return Params{MinWhales: 3, OffsetRatio: 0.5, MaxSlippage: 0.10}
}

var now = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func TestAggregateHedgedMinorityIsIgnored(t *testing.T) {
	// Three qualified whales: A and B on YES ($80 total), C on NO ($20).
	// The NO weight ratio 20/80 = 0.25 is under the offset ratio, so C is
	// treated as hedging noise. With MinWhales 3 the market still does not
	// qualify (only two YES whales); with MinWhales 2 it does.
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 50, 0.40),
		openTrade("B", "mkt", domain.SideYes, 30, 0.45),
		openTrade("C", "mkt", domain.SideNo, 20, 0.60),
	}
	qualified := qualifiedSet("A", "B", "C")
	prices := map[string]float64{"mkt": 0.42}

	strict := Aggregate(open, qualified, prices, defaultParams(), now)
	require.Len(t, strict, 1)
	assert.Equal(t, domain.SideYes, strict[0].MajoritySide)
	assert.Equal(t, 2, strict[0].Yes.Count)
	assert.False(t, strict[0].Qualified, "two whales must not qualify at threshold 3")

	relaxed := Aggregate(open, qualified, prices, Params{MinWhales: 2, OffsetRatio: 0.5, MaxSlippage: 0.10}, now)
	require.Len(t, relaxed, 1)
	assert.True(t, relaxed[0].Qualified)
}

func TestAggregateGenuineDivergenceDisqualifies(t *testing.T) {
	// NO-side weight 60 vs YES 80 breaches the 0.5 offset ratio: the split
	// is genuine divergence, not hedging, so the market never qualifies.
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 50, 0.40),
		openTrade("B", "mkt", domain.SideYes, 30, 0.45),
		openTrade("D", "mkt", domain.SideYes, 10, 0.41),
		openTrade("C", "mkt", domain.SideNo, 60, 0.60),
	}
	out := Aggregate(open, qualifiedSet("A", "B", "C", "D"), map[string]float64{"mkt": 0.42}, defaultParams(), now)
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].Yes.Count)
	assert.False(t, out[0].Qualified)
}

func TestAggregateSizeWeightedAverageEntry(t *testing.T) {
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 50, 0.40),
		openTrade("B", "mkt", domain.SideYes, 30, 0.45),
	}
	out := Aggregate(open, qualifiedSet("A", "B"), map[string]float64{"mkt": 0.42}, defaultParams(), now)
	require.Len(t, out, 1)

	// (50*0.40 + 30*0.45) / 80 = 0.41875
	assert.InDelta(t, 0.41875, out[0].Yes.AvgEntry, 1e-9)
	assert.InDelta(t, (0.42-0.41875)/0.41875, out[0].Slippage, 1e-9)
}

func TestAggregateSlippageCapExcludesDecayedEntries(t *testing.T) {
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 100, 0.40),
		openTrade("B", "mkt", domain.SideYes, 100, 0.40),
		openTrade("C", "mkt", domain.SideYes, 100, 0.40),
	}
	qualified := qualifiedSet("A", "B", "C")

	// Price ran from 0.40 to 0.50: slippage 25% > 10% cap.
	decayed := Aggregate(open, qualified, map[string]float64{"mkt": 0.50}, defaultParams(), now)
	require.Len(t, decayed, 1)
	assert.False(t, decayed[0].Qualified)
	assert.InDelta(t, 0.25, decayed[0].Slippage, 1e-9)

	// Price still near entry: qualifies.
	fresh := Aggregate(open, qualified, map[string]float64{"mkt": 0.42}, defaultParams(), now)
	require.Len(t, fresh, 1)
	assert.True(t, fresh[0].Qualified)
}

func TestAggregateUnqualifiedTradersNeverCount(t *testing.T) {
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 100, 0.40),
		openTrade("nobody-1", "mkt", domain.SideYes, 500, 0.40),
		openTrade("nobody-2", "mkt", domain.SideYes, 500, 0.40),
	}
	out := Aggregate(open, qualifiedSet("A"), map[string]float64{"mkt": 0.40}, defaultParams(), now)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Yes.Count)
	assert.InDelta(t, 100.0, out[0].Yes.Weight, 1e-9)
	assert.False(t, out[0].Qualified)
}

func TestAggregateNoMajorityUsesNoSidePrice(t *testing.T) {
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideNo, 100, 0.55),
		openTrade("B", "mkt", domain.SideNo, 100, 0.55),
		openTrade("C", "mkt", domain.SideNo, 100, 0.55),
	}
	// YES price 0.44 means the NO side currently costs 0.56.
	out := Aggregate(open, qualifiedSet("A", "B", "C"), map[string]float64{"mkt": 0.44}, defaultParams(), now)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SideNo, out[0].MajoritySide)
	assert.InDelta(t, 0.56, out[0].CurrentPrice, 1e-9)
	assert.True(t, out[0].Qualified)
}

func TestAggregateMissingPriceLeavesMarketUnqualified(t *testing.T) {
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 100, 0.40),
		openTrade("B", "mkt", domain.SideYes, 100, 0.40),
		openTrade("C", "mkt", domain.SideYes, 100, 0.40),
	}
	out := Aggregate(open, qualifiedSet("A", "B", "C"), nil, defaultParams(), now)
	require.Len(t, out, 1)
	assert.False(t, out[0].Qualified, "entry decay cannot be verified without a price")
}

func TestAggregateMultipleTradesPerTraderCountOnce(t *testing.T) {
	open := []domain.Trade{
		openTrade("A", "mkt", domain.SideYes, 50, 0.40),
		openTrade("A", "mkt", domain.SideYes, 50, 0.44),
	}
	out := Aggregate(open, qualifiedSet("A"), map[string]float64{"mkt": 0.42}, defaultParams(), now)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Yes.Count)
	assert.InDelta(t, 100.0, out[0].Yes.Weight, 1e-9)
	assert.InDelta(t, 0.42, out[0].Yes.AvgEntry, 1e-9)
}
