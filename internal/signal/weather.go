package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/config"
	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// WeatherParams tunes forecast-divergence candidates.
type WeatherParams struct {
	// EdgeMin is the minimum probability gap between the forecast model and
	// the market price.
	EdgeMin float64
	// HighConfidenceEdge promotes a candidate to HIGH confidence.
	HighConfidenceEdge float64
}

// WeatherSource compares model forecast probabilities with market prices for
// a configured list of weather markets. A market priced well below the
// forecast probability is a YES candidate; one priced well above it is a NO
// candidate.
type WeatherSource struct {
	forecast domain.ForecastSource
	market   domain.MarketDataSource
	targets  []config.WeatherTarget
	params   WeatherParams
	logger   *slog.Logger
}

// NewWeatherSource creates a WeatherSource over the configured targets.
func NewWeatherSource(
	forecast domain.ForecastSource,
	market domain.MarketDataSource,
	targets []config.WeatherTarget,
	params WeatherParams,
	logger *slog.Logger,
) *WeatherSource {
	return &WeatherSource{
		forecast: forecast,
		market:   market,
		targets:  targets,
		params:   params,
		logger:   logger.With(slog.String("component", "weather_source")),
	}
}

func (s *WeatherSource) Name() string { return string(domain.SourceWeatherArb) }

// Candidates evaluates every configured target. Per-target failures are
// logged and skipped; the first error is returned alongside whatever was
// computed so the caller can grade the pass as partial.
func (s *WeatherSource) Candidates(ctx context.Context) ([]Candidate, error) {
	var (
		out      []Candidate
		firstErr error
	)
	for _, target := range s.targets {
		cand, ok, err := s.evaluate(ctx, target)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.WarnContext(ctx, "weather target failed",
				slog.String("market_id", target.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			out = append(out, cand)
		}
	}
	return out, firstErr
}

func (s *WeatherSource) evaluate(ctx context.Context, target config.WeatherTarget) (Candidate, bool, error) {
	query := domain.ForecastQuery{
		Latitude:  target.Latitude,
		Longitude: target.Longitude,
		Metric:    target.Metric,
		Threshold: target.Threshold,
		Above:     target.Above,
	}
	if target.Date != "" {
		date, err := time.Parse("2006-01-02", target.Date)
		if err != nil {
			return Candidate{}, false, fmt.Errorf("signal: weather target %s: bad date: %w", target.MarketID, err)
		}
		query.Date = date
	}

	prob, err := s.forecast.EventProbability(ctx, query)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("signal: forecast for %s: %w", target.MarketID, err)
	}

	price, err := s.market.GetPrice(ctx, target.MarketID)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("signal: price for %s: %w", target.MarketID, err)
	}

	gap := prob - price
	side := domain.SideYes
	edge := gap
	if gap < 0 {
		side = domain.SideNo
		edge = -gap
	}
	if edge < s.params.EdgeMin {
		return Candidate{}, false, nil
	}

	confidence := domain.ConfidenceMedium
	if edge >= s.params.HighConfidenceEdge {
		confidence = domain.ConfidenceHigh
	}

	return Candidate{
		MarketID:      target.MarketID,
		Side:          side,
		Source:        domain.SourceWeatherArb,
		Edge:          edge,
		Confidence:    confidence,
		Corroboration: 1,
		Payload: map[string]any{
			"forecast_probability": prob,
			"market_price":         price,
			"metric":               target.Metric,
			"threshold":            target.Threshold,
			"above":                target.Above,
		},
	}, true, nil
}

var _ CandidateSource = (*WeatherSource)(nil)
