package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is the metadata the pipeline needs about a binary market.
type Market struct {
	ID        string
	Question  string
	Slug      string
	Category  string
	Volume    float64
	YesPrice  float64
	Status    MarketStatus
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// MarketResolution is the settled outcome of a market as reported by the
// upstream data source.
type MarketResolution struct {
	MarketID string
	Resolved bool
	Winner   Side // meaningful only when Resolved and not Void
	Void     bool
}

// TradeOutcome maps a market's resolution onto one trade's side.
func (r MarketResolution) TradeOutcome(side Side) ResolutionStatus {
	if !r.Resolved {
		return Unresolved
	}
	if r.Void {
		return ResolvedVoid
	}
	if r.Winner == side {
		return ResolvedWin
	}
	return ResolvedLoss
}
