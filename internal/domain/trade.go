package domain

import "time"

// Side is the position taken on a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other side of a binary market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ResolutionStatus is the settlement state of a trade or paper position.
// A record transitions away from Unresolved exactly once.
type ResolutionStatus string

const (
	Unresolved   ResolutionStatus = "UNRESOLVED"
	ResolvedWin  ResolutionStatus = "RESOLVED_WIN"
	ResolvedLoss ResolutionStatus = "RESOLVED_LOSS"
	ResolvedVoid ResolutionStatus = "RESOLVED_VOID"
)

// Trade is a single observed fill by a tracked trader on a binary market.
// EntryPrice is the implied probability paid, strictly inside (0, 1).
type Trade struct {
	ID         int64
	TraderID   string
	MarketID   string
	Category   string
	Side       Side
	Size       float64 // stake in USD
	EntryPrice float64
	EntryTime  time.Time
	Resolution ResolutionStatus
	PnL        *float64
	ResolvedAt *time.Time
}

// Resolved reports whether the trade has reached a terminal resolution.
func (t Trade) Resolved() bool {
	return t.Resolution != Unresolved && t.Resolution != ""
}

// SettlementPnL computes the realized profit for a stake entered at the
// given price once the market settles. A winning share bought at p pays out
// 1 per unit, so profit is size/price - size; a loss forfeits the stake; a
// voided market returns it.
func SettlementPnL(status ResolutionStatus, size, entryPrice float64) float64 {
	switch status {
	case ResolvedWin:
		return size/entryPrice - size
	case ResolvedLoss:
		return -size
	default:
		return 0
	}
}
