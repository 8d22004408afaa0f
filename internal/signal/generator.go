package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/notify"
)

// signalsChannel is the bus channel and stream carrying signal lifecycle
// events for dashboard clients.
const signalsChannel = "signals"

// Alerter is the outbound alert sink. Delivery is best-effort: failures are
// logged and never block signal generation.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Params tunes candidate thresholds and dedup behavior.
type Params struct {
	MinAvgWinRate      float64
	HighConfidenceEdge float64
	// AlertEdgeMin is the escalation bar: candidates at or above it, with
	// HIGH confidence or multi-whale corroboration, are pushed to the
	// alert sink.
	AlertEdgeMin float64
	// MinCorroboration is the whale count treated as corroboration for
	// escalation purposes.
	MinCorroboration int
	// StalenessWindow retires active signals not reconfirmed within it.
	StalenessWindow time.Duration
}

// Result summarizes one generation pass.
type Result struct {
	Created      int
	Confirmed    int
	Retired      int64
	Alerts       int
	SourceErrors int
}

// Generator merges whale-consensus candidates with the registered extra
// sources, deduplicates them against the signal store, retires stale
// signals and escalates the strongest candidates.
type Generator struct {
	store   domain.SignalStore
	sources []CandidateSource
	bus     domain.EventBus
	alerter Alerter
	logger  *slog.Logger
	params  Params
}

// NewGenerator creates a Generator. bus and alerter may be nil.
func NewGenerator(
	store domain.SignalStore,
	sources []CandidateSource,
	bus domain.EventBus,
	alerter Alerter,
	params Params,
	logger *slog.Logger,
) *Generator {
	if params.MinCorroboration <= 0 {
		params.MinCorroboration = 3
	}
	if params.StalenessWindow <= 0 {
		params.StalenessWindow = 24 * time.Hour
	}
	return &Generator{
		store:   store,
		sources: sources,
		bus:     bus,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "signal_generator")),
		params:  params,
	}
}

// Run executes one generation pass over the given consensus snapshot. A
// failing candidate source degrades the pass (counted in SourceErrors) but
// never aborts it; candidates from healthy sources are still processed.
func (g *Generator) Run(ctx context.Context, consensus []domain.MarketConsensus) (Result, error) {
	var res Result

	candidates := WhaleCandidates(consensus, WhaleParams{
		MinAvgWinRate:      g.params.MinAvgWinRate,
		HighConfidenceEdge: g.params.HighConfidenceEdge,
	})

	for _, src := range g.sources {
		cs, err := src.Candidates(ctx)
		if err != nil {
			res.SourceErrors++
			g.logger.WarnContext(ctx, "candidate source degraded",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
		}
		candidates = append(candidates, cs...)
	}

	now := time.Now().UTC()
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return res, fmt.Errorf("signal: generate: %w", ctx.Err())
		}
		created, err := g.upsert(ctx, cand, now)
		if err != nil {
			g.logger.ErrorContext(ctx, "signal upsert failed",
				slog.String("key", domain.SignalKey(cand.MarketID, cand.Side, cand.Source)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			res.Created++
			g.publish(ctx, notify.EventSignalCreated, cand)
			if g.shouldAlert(cand) {
				g.alert(ctx, cand)
				res.Alerts++
			}
		} else {
			res.Confirmed++
		}
	}

	retired, err := g.store.RetireStale(ctx, now.Add(-g.params.StalenessWindow))
	if err != nil {
		g.logger.ErrorContext(ctx, "stale retirement failed",
			slog.String("error", err.Error()),
		)
	} else {
		res.Retired = retired
		if retired > 0 {
			g.publishRetired(ctx, retired)
		}
	}

	g.logger.InfoContext(ctx, "signal pass finished",
		slog.Int("created", res.Created),
		slog.Int("confirmed", res.Confirmed),
		slog.Int64("retired", res.Retired),
		slog.Int("alerts", res.Alerts),
	)
	return res, nil
}

// upsert confirms an existing active signal for the candidate's dedup key or
// inserts a new one. It reports whether a new signal was created.
func (g *Generator) upsert(ctx context.Context, cand Candidate, now time.Time) (bool, error) {
	existing, err := g.store.GetActiveByKey(ctx, cand.MarketID, cand.Side, cand.Source)
	switch {
	case err == nil:
		if err := g.store.Confirm(ctx, existing.ID, cand.Edge, now); err != nil {
			return false, fmt.Errorf("signal: confirm %s: %w", existing.ID, err)
		}
		return false, nil
	case errors.Is(err, domain.ErrNotFound):
		// fall through to insert
	default:
		return false, fmt.Errorf("signal: lookup active: %w", err)
	}

	sig := domain.Signal{
		ID:              uuid.New().String(),
		MarketID:        cand.MarketID,
		Side:            cand.Side,
		Source:          cand.Source,
		Edge:            cand.Edge,
		Confidence:      cand.Confidence,
		GeneratedAt:     now,
		LastConfirmedAt: now,
		Active:          true,
		Payload:         cand.Payload,
	}
	err = g.store.Insert(ctx, sig)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a race with a concurrent pass; confirm the winner instead.
		winner, getErr := g.store.GetActiveByKey(ctx, cand.MarketID, cand.Side, cand.Source)
		if getErr != nil {
			return false, fmt.Errorf("signal: relookup after conflict: %w", getErr)
		}
		if err := g.store.Confirm(ctx, winner.ID, cand.Edge, now); err != nil {
			return false, fmt.Errorf("signal: confirm after conflict: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("signal: insert: %w", err)
	}
	return true, nil
}

// shouldAlert applies the escalation rule: a strong edge alone is not
// enough, it must come with HIGH confidence or multi-whale corroboration.
func (g *Generator) shouldAlert(cand Candidate) bool {
	if cand.Edge < g.params.AlertEdgeMin {
		return false
	}
	return cand.Confidence == domain.ConfidenceHigh ||
		cand.Corroboration >= g.params.MinCorroboration
}

func (g *Generator) alert(ctx context.Context, cand Candidate) {
	if g.alerter == nil {
		return
	}
	title := fmt.Sprintf("Signal: %s %s", cand.Side, cand.MarketID)
	msg := fmt.Sprintf("source=%s edge=%.1f%% confidence=%s", cand.Source, cand.Edge*100, cand.Confidence)
	if err := g.alerter.Notify(ctx, notify.EventSignalCreated, title, msg); err != nil {
		g.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("market_id", cand.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Generator) publish(ctx context.Context, event string, cand Candidate) {
	if g.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     event,
		"market_id": cand.MarketID,
		"side":      cand.Side,
		"source":    cand.Source,
		"edge":      cand.Edge,
	})
	if err != nil {
		return
	}
	if err := g.bus.Publish(ctx, signalsChannel, payload); err != nil {
		g.logger.WarnContext(ctx, "bus publish failed", slog.String("error", err.Error()))
	}
	if err := g.bus.StreamAppend(ctx, signalsChannel, payload); err != nil {
		g.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
}

func (g *Generator) publishRetired(ctx context.Context, count int64) {
	if g.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event": notify.EventSignalRetired,
		"count": count,
	})
	if err != nil {
		return
	}
	if err := g.bus.Publish(ctx, signalsChannel, payload); err != nil {
		g.logger.WarnContext(ctx, "bus publish failed", slog.String("error", err.Error()))
	}
}
