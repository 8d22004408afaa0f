package domain

import "time"

// PaperTrade is a simulated fixed-stake position opened against a signal.
// Exactly one paper trade ever exists per signal dedup key.
type PaperTrade struct {
	ID         string // UUID
	SignalKey  string
	MarketID   string
	Side       Side
	Stake      float64
	EntryPrice float64
	OpenedAt   time.Time
	Resolution ResolutionStatus
	PnL        *float64
	ClosedAt   *time.Time
}

// Closed reports whether the paper trade has settled.
func (p PaperTrade) Closed() bool {
	return p.Resolution != Unresolved && p.Resolution != ""
}

// PaperPerformance is the aggregate view over the full closed paper history,
// recomputed from scratch each ledger pass.
type PaperPerformance struct {
	OpenCount        int
	ClosedCount      int
	Wins             int
	Losses           int
	Voids            int
	WinRate          float64
	TotalPnL         float64
	ReturnVolatility float64
	MaxDrawdown      float64
	SharpeRatio      float64
	Degraded         bool // stop-condition tripped
	ComputedAt       time.Time
}
