// Package openmeteo implements the forecast source using the Open-Meteo
// REST API.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// nearMargin is how close a forecast value has to be to the threshold (in the
// metric's own unit) before the event is assigned residual probability.
const nearMargin = 5.0

// dailyParam maps forecast metrics onto Open-Meteo daily variable names.
var dailyParam = map[string]string{
	"temperature_max": "temperature_2m_max",
	"temperature_min": "temperature_2m_min",
	"precipitation":   "precipitation_sum",
}

// Client is the REST client for the Open-Meteo forecast API. Open-Meteo
// needs no API key.
type Client struct {
	baseURL      string
	forecastDays int
	httpClient   *http.Client
}

// NewClient creates a new Open-Meteo client.
//
// baseURL is the API root, e.g. "https://api.open-meteo.com/v1".
func NewClient(baseURL string, timeout time.Duration, forecastDays int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if forecastDays <= 0 {
		forecastDays = 7
	}
	return &Client{
		baseURL:      baseURL,
		forecastDays: forecastDays,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type forecastResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		TemperatureMin   []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

func (r *forecastResponse) series(param string) []float64 {
	switch param {
	case "temperature_2m_max":
		return r.Daily.TemperatureMax
	case "temperature_2m_min":
		return r.Daily.TemperatureMin
	case "precipitation_sum":
		return r.Daily.PrecipitationSum
	default:
		return nil
	}
}

// EventProbability estimates the probability of a weather event from the
// daily forecast. When the query names a date the forecast for that day is
// used; otherwise the most favorable of the next three days is taken. The
// mapping from forecast value to probability is a coarse step function: a
// forecast already past the threshold scores 0.9, one within nearMargin of
// it scores 0.3, anything else 0.1.
func (c *Client) EventProbability(ctx context.Context, q domain.ForecastQuery) (float64, error) {
	param, ok := dailyParam[q.Metric]
	if !ok {
		return 0, fmt.Errorf("openmeteo: unsupported metric %q", q.Metric)
	}

	resp, err := c.fetchForecast(ctx, q.Latitude, q.Longitude, param)
	if err != nil {
		return 0, err
	}

	values := resp.series(param)
	if len(values) == 0 {
		return 0, fmt.Errorf("openmeteo: %w: empty %s series", domain.ErrDataInconsistent, param)
	}

	if !q.Date.IsZero() {
		day := q.Date.UTC().Format("2006-01-02")
		for i, t := range resp.Daily.Time {
			if t == day && i < len(values) {
				return stepProbability(values[i], q.Threshold, q.Above), nil
			}
		}
		return 0, fmt.Errorf("openmeteo: %w: date %s outside forecast horizon", domain.ErrNotFound, day)
	}

	// No date given: take the best chance over the next three days.
	prob := 0.0
	for i, v := range values {
		if i >= 3 {
			break
		}
		if p := stepProbability(v, q.Threshold, q.Above); p > prob {
			prob = p
		}
	}
	return prob, nil
}

func stepProbability(value, threshold float64, above bool) float64 {
	if above {
		switch {
		case value >= threshold:
			return 0.9
		case value >= threshold-nearMargin:
			return 0.3
		default:
			return 0.1
		}
	}
	switch {
	case value < threshold:
		return 0.9
	case value <= threshold+nearMargin:
		return 0.3
	default:
		return 0.1
	}
}

func (c *Client) fetchForecast(ctx context.Context, lat, lon float64, param string) (*forecastResponse, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("daily", param)
	params.Set("temperature_unit", "fahrenheit")
	params.Set("timezone", "UTC")
	params.Set("forecast_days", strconv.Itoa(c.forecastDays))

	endpoint := c.baseURL + "/forecast?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("openmeteo: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openmeteo: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openmeteo: read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("openmeteo: %w: %s", domain.ErrRateLimited, body)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("openmeteo: %w: HTTP %d: %s", domain.ErrSourceUnavailable, httpResp.StatusCode, body)
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openmeteo: decode forecast: %w", err)
	}
	return &resp, nil
}

// Compile-time interface check.
var _ domain.ForecastSource = (*Client)(nil)
