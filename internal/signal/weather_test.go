package signal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/whaletrack/internal/config"
	"github.com/alanyoungcy/whaletrack/internal/domain"
)

type fakeForecast struct {
	prob float64
	err  error
}

func (f *fakeForecast) EventProbability(ctx context.Context, q domain.ForecastQuery) (float64, error) {
	return f.prob, f.err
}

type fakePriceSource struct {
	domain.MarketDataSource
	price float64
	err   error
}

func (f *fakePriceSource) GetPrice(ctx context.Context, marketID string) (float64, error) {
	return f.price, f.err
}

func weatherTarget() config.WeatherTarget {
	return config.WeatherTarget{
		MarketID:  "nyc-90f",
		Latitude:  40.78,
		Longitude: -73.97,
		Metric:    "temperature_max",
		Threshold: 90,
		Above:     true,
	}
}

func weatherParams() WeatherParams {
	return WeatherParams{EdgeMin: 0.15, HighConfidenceEdge: 0.30}
}

func TestWeatherCandidatesUnderpricedMarketIsYes(t *testing.T) {
	src := NewWeatherSource(
		&fakeForecast{prob: 0.90},
		&fakePriceSource{price: 0.55},
		[]config.WeatherTarget{weatherTarget()},
		weatherParams(),
		testLogger(),
	)

	cands, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, domain.SideYes, cands[0].Side)
	assert.InDelta(t, 0.35, cands[0].Edge, 1e-9)
	assert.Equal(t, domain.ConfidenceHigh, cands[0].Confidence)
}

func TestWeatherCandidatesOverpricedMarketIsNo(t *testing.T) {
	src := NewWeatherSource(
		&fakeForecast{prob: 0.10},
		&fakePriceSource{price: 0.40},
		[]config.WeatherTarget{weatherTarget()},
		weatherParams(),
		testLogger(),
	)

	cands, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, domain.SideNo, cands[0].Side)
	assert.InDelta(t, 0.30, cands[0].Edge, 1e-9)
}

func TestWeatherCandidatesSmallGapIsDropped(t *testing.T) {
	src := NewWeatherSource(
		&fakeForecast{prob: 0.50},
		&fakePriceSource{price: 0.45},
		[]config.WeatherTarget{weatherTarget()},
		weatherParams(),
		testLogger(),
	)

	cands, err := src.Candidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestWeatherCandidatesTargetFailureIsPartial(t *testing.T) {
	src := NewWeatherSource(
		&fakeForecast{err: fmt.Errorf("down: %w", domain.ErrSourceUnavailable)},
		&fakePriceSource{price: 0.45},
		[]config.WeatherTarget{weatherTarget()},
		weatherParams(),
		testLogger(),
	)

	cands, err := src.Candidates(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Empty(t, cands)
}
