package domain

import "time"

// ConsensusSide aggregates the qualified traders positioned on one side of
// a market.
type ConsensusSide struct {
	Count      int     // distinct qualified traders
	Weight     float64 // total qualified stake in USD
	AvgEntry   float64 // size-weighted average entry price
	AvgWinRate float64 // mean win rate across the qualified traders
}

// MarketConsensus is the per-market view of where qualified traders are
// positioned. It is recomputed from scratch each aggregation pass and never
// persisted.
type MarketConsensus struct {
	MarketID     string
	MajoritySide Side
	Yes          ConsensusSide
	No           ConsensusSide
	CurrentPrice float64
	Slippage     float64 // (current - majority avg entry) / avg entry
	Qualified    bool    // passed whale-count and offset checks
	ComputedAt   time.Time
}

// Majority returns the side stats for the majority side.
func (c MarketConsensus) Majority() ConsensusSide {
	if c.MajoritySide == SideNo {
		return c.No
	}
	return c.Yes
}

// Minority returns the side stats opposite the majority.
func (c MarketConsensus) Minority() ConsensusSide {
	if c.MajoritySide == SideNo {
		return c.Yes
	}
	return c.No
}
