package signal

import (
	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// WhaleParams tunes consensus-derived candidates.
type WhaleParams struct {
	// MinAvgWinRate is the minimum mean win rate across the consensus
	// whales for their position to count as an edge source.
	MinAvgWinRate float64
	// HighConfidenceEdge promotes a candidate to HIGH confidence.
	HighConfidenceEdge float64
}

// WhaleCandidates derives candidates from qualified market consensus. The
// edge estimate treats the whales' collective historical win rate as the
// fair probability and compares it with the current majority-side price: a
// group that wins 70% of the time buying a side priced at 0.45 implies a
// 0.25 edge. Unqualified consensus rows and non-positive edges produce
// nothing.
func WhaleCandidates(consensus []domain.MarketConsensus, params WhaleParams) []Candidate {
	out := make([]Candidate, 0, len(consensus))
	for _, mc := range consensus {
		if !mc.Qualified {
			continue
		}
		maj := mc.Majority()
		if maj.AvgWinRate < params.MinAvgWinRate {
			continue
		}
		if mc.CurrentPrice <= 0 || mc.CurrentPrice >= 1 {
			continue
		}

		edge := maj.AvgWinRate - mc.CurrentPrice
		if edge <= 0 {
			continue
		}

		confidence := domain.ConfidenceMedium
		if edge >= params.HighConfidenceEdge {
			confidence = domain.ConfidenceHigh
		}

		out = append(out, Candidate{
			MarketID:      mc.MarketID,
			Side:          mc.MajoritySide,
			Source:        domain.SourceWhaleConsensus,
			Edge:          edge,
			Confidence:    confidence,
			Corroboration: maj.Count,
			Payload: map[string]any{
				"whale_count":  maj.Count,
				"avg_win_rate": maj.AvgWinRate,
				"avg_entry":    maj.AvgEntry,
				"price":        mc.CurrentPrice,
				"slippage":     mc.Slippage,
			},
		})
	}
	return out
}
