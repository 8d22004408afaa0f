package domain

import (
	"context"
	"time"
)

// MarketDataSource is the upstream market-data provider. Implementations
// must return ErrSourceUnavailable (wrapped) on transport failures and
// ErrNotFound when a market does not exist.
type MarketDataSource interface {
	GetMarket(ctx context.Context, marketID string) (Market, error)
	GetResolution(ctx context.Context, marketID string) (MarketResolution, error)
	GetPrice(ctx context.Context, marketID string) (float64, error)
	ListRecentMarkets(ctx context.Context, createdAfter time.Time, limit int) ([]Market, error)
}

// ForecastQuery describes one weather event probability lookup.
type ForecastQuery struct {
	Latitude  float64
	Longitude float64
	Metric    string // e.g. "temperature_max", "precipitation"
	Threshold float64
	Above     bool // true: P(value >= threshold), false: P(value < threshold)
	Date      time.Time
}

// ForecastSource estimates the probability of a weather event from model
// forecasts. Results are in [0, 1].
type ForecastSource interface {
	EventProbability(ctx context.Context, q ForecastQuery) (float64, error)
}
