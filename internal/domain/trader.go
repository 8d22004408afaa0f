package domain

import "time"

// TraderProfile is the derived skill record for one tracked trader. It is
// recomputed from the trader's full resolved history on every scoring pass
// rather than updated incrementally.
type TraderProfile struct {
	TraderID         string
	Wins             int
	Losses           int
	Voids            int
	ResolvedCount    int
	RealizedPnL      float64
	ProfitFactor     float64
	MaxDrawdown      float64
	CategoryWinRates map[string]float64
	SkillScore       float64
	Qualified        bool
	UpdatedAt        time.Time
}

// WinRate returns wins over decided (non-void) resolutions, or 0 when the
// trader has no decided trades yet.
func (p TraderProfile) WinRate() float64 {
	decided := p.Wins + p.Losses
	if decided == 0 {
		return 0
	}
	return float64(p.Wins) / float64(decided)
}
