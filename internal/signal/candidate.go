// Package signal turns consensus views, forecast divergence and new-market
// scans into deduplicated, confidence-ranked signals.
package signal

import (
	"context"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// Candidate is one detected opportunity before deduplication. The common
// core is shared by every detector; Payload carries the source-specific
// detail that ends up on the stored signal.
type Candidate struct {
	MarketID   string
	Side       domain.Side
	Source     domain.SignalSource
	Edge       float64
	Confidence domain.Confidence
	// Corroboration counts independent backers of the candidate (distinct
	// whales for consensus signals). Used by alert escalation.
	Corroboration int
	Payload       map[string]any
}

// CandidateSource produces candidates for one detector. Implementations
// return whatever they could compute plus an error for what they could not;
// a partial slice with a non-nil error is valid.
type CandidateSource interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
}
