package domain

import (
	"fmt"
	"time"
)

// SignalSource identifies the detector that produced a signal.
type SignalSource string

const (
	SourceWhaleConsensus SignalSource = "whale_consensus"
	SourceWeatherArb     SignalSource = "weather_arbitrage"
	SourceNewMarket      SignalSource = "new_market"
)

// Confidence is a coarse grade attached to every signal.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Signal is a detected trading opportunity. At most one active signal may
// exist per dedup key; re-detections confirm the existing row instead of
// inserting a new one.
type Signal struct {
	ID              string // UUID
	MarketID        string
	Side            Side
	Source          SignalSource
	Edge            float64
	Confidence      Confidence
	GeneratedAt     time.Time
	LastConfirmedAt time.Time
	Active          bool
	Payload         map[string]any // source-specific detail, stored as JSONB
}

// Key returns the signal's dedup key.
func (s Signal) Key() string {
	return SignalKey(s.MarketID, s.Side, s.Source)
}

// SignalKey builds the dedup key under which signals and paper trades are
// unique: market, side and source together.
func SignalKey(marketID string, side Side, source SignalSource) string {
	return fmt.Sprintf("%s|%s|%s", marketID, side, source)
}
