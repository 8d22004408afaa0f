package signal

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memSignalStore enforces the one-active-signal-per-key invariant in memory.
type memSignalStore struct {
	signals map[string]*domain.Signal // by ID
	retired int64
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{signals: map[string]*domain.Signal{}}
}

func (m *memSignalStore) Insert(ctx context.Context, sig domain.Signal) error {
	for _, s := range m.signals {
		if s.Active && s.Key() == sig.Key() {
			return domain.ErrAlreadyExists
		}
	}
	cp := sig
	m.signals[sig.ID] = &cp
	return nil
}

func (m *memSignalStore) Confirm(ctx context.Context, id string, edge float64, at time.Time) error {
	s, ok := m.signals[id]
	if !ok || !s.Active {
		return domain.ErrNotFound
	}
	s.Edge = edge
	s.LastConfirmedAt = at
	return nil
}

func (m *memSignalStore) Retire(ctx context.Context, id string) error {
	s, ok := m.signals[id]
	if !ok || !s.Active {
		return domain.ErrNotFound
	}
	s.Active = false
	return nil
}

func (m *memSignalStore) RetireStale(ctx context.Context, unconfirmedBefore time.Time) (int64, error) {
	var n int64
	for _, s := range m.signals {
		if s.Active && s.LastConfirmedAt.Before(unconfirmedBefore) {
			s.Active = false
			n++
		}
	}
	m.retired += n
	return n, nil
}

func (m *memSignalStore) GetActiveByKey(ctx context.Context, marketID string, side domain.Side, source domain.SignalSource) (domain.Signal, error) {
	key := domain.SignalKey(marketID, side, source)
	for _, s := range m.signals {
		if s.Active && s.Key() == key {
			return *s, nil
		}
	}
	return domain.Signal{}, domain.ErrNotFound
}

func (m *memSignalStore) ListActive(ctx context.Context) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, s := range m.signals {
		if s.Active {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSignalStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, s := range m.signals {
		if s.MarketID == marketID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type recordingAlerter struct {
	calls []string
}

func (r *recordingAlerter) Notify(ctx context.Context, event, title, message string) error {
	r.calls = append(r.calls, title)
	return nil
}

func qualifiedConsensus(marketID string, winRate, price float64) domain.MarketConsensus {
	return domain.MarketConsensus{
		MarketID:     marketID,
		MajoritySide: domain.SideYes,
		Yes:          domain.ConsensusSide{Count: 4, Weight: 400, AvgEntry: price, AvgWinRate: winRate},
		CurrentPrice: price,
		Qualified:    true,
		ComputedAt:   time.Now().UTC(),
	}
}

func testGenParams() Params {
	return Params{
		MinAvgWinRate:      0.65,
		HighConfidenceEdge: 0.30,
		AlertEdgeMin:       0.30,
		MinCorroboration:   3,
		StalenessWindow:    24 * time.Hour,
	}
}

func TestRunSameCandidateTwiceConfirmsNotDuplicates(t *testing.T) {
	store := newMemSignalStore()
	gen := NewGenerator(store, nil, nil, nil, testGenParams(), testLogger())
	consensus := []domain.MarketConsensus{qualifiedConsensus("mkt", 0.70, 0.50)}

	first, err := gen.Run(context.Background(), consensus)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Zero(t, first.Confirmed)

	second, err := gen.Run(context.Background(), consensus)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Confirmed)

	active, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1, "exactly one active signal per dedup key")
	assert.True(t, active[0].LastConfirmedAt.After(active[0].GeneratedAt) ||
		active[0].LastConfirmedAt.Equal(active[0].GeneratedAt))
}

func TestRunUnqualifiedConsensusProducesNothing(t *testing.T) {
	store := newMemSignalStore()
	gen := NewGenerator(store, nil, nil, nil, testGenParams(), testLogger())

	mc := qualifiedConsensus("mkt", 0.70, 0.50)
	mc.Qualified = false

	res, err := gen.Run(context.Background(), []domain.MarketConsensus{mc})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
}

func TestRunLowWinRateConsensusProducesNothing(t *testing.T) {
	store := newMemSignalStore()
	gen := NewGenerator(store, nil, nil, nil, testGenParams(), testLogger())

	res, err := gen.Run(context.Background(), []domain.MarketConsensus{
		qualifiedConsensus("mkt", 0.60, 0.50), // below the 0.65 floor
	})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
}

func TestRunRetiresStaleSignals(t *testing.T) {
	store := newMemSignalStore()
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Insert(context.Background(), domain.Signal{
		ID:              "stale-1",
		MarketID:        "old-mkt",
		Side:            domain.SideYes,
		Source:          domain.SourceWhaleConsensus,
		GeneratedAt:     old,
		LastConfirmedAt: old,
		Active:          true,
	}))

	gen := NewGenerator(store, nil, nil, nil, testGenParams(), testLogger())
	res, err := gen.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Retired)

	// Retired, not deleted: the row survives for audit.
	sigs, err := store.ListByMarket(context.Background(), "old-mkt", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.False(t, sigs[0].Active)
}

func TestAlertEscalationRequiresCorroborationOrHighConfidence(t *testing.T) {
	alerter := &recordingAlerter{}
	store := newMemSignalStore()
	gen := NewGenerator(store, nil, nil, alerter, testGenParams(), testLogger())

	// Edge 0.35 with 4 whales: escalates.
	res, err := gen.Run(context.Background(), []domain.MarketConsensus{
		qualifiedConsensus("big-edge", 0.85, 0.50),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Alerts)
	assert.Len(t, alerter.calls, 1)

	// Edge 0.20 never escalates regardless of backing.
	res, err = gen.Run(context.Background(), []domain.MarketConsensus{
		qualifiedConsensus("small-edge", 0.70, 0.50),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Alerts)
	assert.Len(t, alerter.calls, 1)
}

func TestAlertFiresOnlyOnCreation(t *testing.T) {
	alerter := &recordingAlerter{}
	store := newMemSignalStore()
	gen := NewGenerator(store, nil, nil, alerter, testGenParams(), testLogger())
	consensus := []domain.MarketConsensus{qualifiedConsensus("mkt", 0.85, 0.50)}

	_, err := gen.Run(context.Background(), consensus)
	require.NoError(t, err)
	_, err = gen.Run(context.Background(), consensus)
	require.NoError(t, err)

	assert.Len(t, alerter.calls, 1, "reconfirmation must not re-alert")
}

func TestWhaleCandidatesEdgeAndConfidence(t *testing.T) {
	cands := WhaleCandidates([]domain.MarketConsensus{
		qualifiedConsensus("mkt", 0.72, 0.50),
	}, WhaleParams{MinAvgWinRate: 0.65, HighConfidenceEdge: 0.30})

	require.Len(t, cands, 1)
	assert.InDelta(t, 0.22, cands[0].Edge, 1e-9)
	assert.Equal(t, domain.ConfidenceMedium, cands[0].Confidence)
	assert.Equal(t, 4, cands[0].Corroboration)

	high := WhaleCandidates([]domain.MarketConsensus{
		qualifiedConsensus("mkt", 0.85, 0.50),
	}, WhaleParams{MinAvgWinRate: 0.65, HighConfidenceEdge: 0.30})
	require.Len(t, high, 1)
	assert.Equal(t, domain.ConfidenceHigh, high[0].Confidence)
}

var _ domain.SignalStore = (*memSignalStore)(nil)
