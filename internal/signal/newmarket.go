package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// NewMarketParams tunes early-entry scanning.
type NewMarketParams struct {
	// MaxAge is the lookback window; only markets created inside it are
	// flagged.
	MaxAge time.Duration
	// MaxVolume is the volume ceiling. A market already trading heavily is
	// no longer an early entry.
	MaxVolume float64
	// ScanLimit caps how many recent markets are fetched per pass.
	ScanLimit int
}

// NewMarketSource flags freshly created, thinly traded markets. These are
// pure early-entry markers: there is no pricing model behind them, so they
// carry zero edge and always LOW confidence, and they never escalate to
// alerts.
type NewMarketSource struct {
	market domain.MarketDataSource
	params NewMarketParams
	logger *slog.Logger
}

// NewNewMarketSource creates a NewMarketSource.
func NewNewMarketSource(market domain.MarketDataSource, params NewMarketParams, logger *slog.Logger) *NewMarketSource {
	if params.ScanLimit <= 0 {
		params.ScanLimit = 100
	}
	return &NewMarketSource{
		market: market,
		params: params,
		logger: logger.With(slog.String("component", "new_market_source")),
	}
}

func (s *NewMarketSource) Name() string { return string(domain.SourceNewMarket) }

// Candidates scans recently created markets and flags the quiet ones. The
// flagged side is whichever currently trades cheaper, since that is where
// an early entry has room to move.
func (s *NewMarketSource) Candidates(ctx context.Context) ([]Candidate, error) {
	cutoff := time.Now().UTC().Add(-s.params.MaxAge)
	markets, err := s.market.ListRecentMarkets(ctx, cutoff, s.params.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("signal: scan recent markets: %w", err)
	}

	var out []Candidate
	for _, m := range markets {
		if m.Status != domain.MarketStatusActive {
			continue
		}
		if m.Volume > s.params.MaxVolume {
			continue
		}
		if m.YesPrice <= 0 || m.YesPrice >= 1 {
			continue
		}

		side := domain.SideYes
		if m.YesPrice > 0.5 {
			side = domain.SideNo
		}

		out = append(out, Candidate{
			MarketID:      m.ID,
			Side:          side,
			Source:        domain.SourceNewMarket,
			Edge:          0,
			Confidence:    domain.ConfidenceLow,
			Corroboration: 0,
			Payload: map[string]any{
				"question":   m.Question,
				"volume":     m.Volume,
				"yes_price":  m.YesPrice,
				"created_at": m.CreatedAt.Format(time.RFC3339),
			},
		})
	}

	s.logger.DebugContext(ctx, "new market scan",
		slog.Int("scanned", len(markets)),
		slog.Int("flagged", len(out)),
	)
	return out, nil
}

var _ CandidateSource = (*NewMarketSource)(nil)
