package paper

import (
	"context"
	"encoding/json"
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

func testParams() Params {
	return Params{Stake: 100, StopLossUSD: 500, StopMinWinRate: 0.40, StopMinSample: 20}
}

// memPaperStore enforces one paper trade per signal key, like the real store.
type memPaperStore struct {
	trades map[string]*domain.PaperTrade // by ID
	byKey  map[string]string
}

func newMemPaperStore() *memPaperStore {
	return &memPaperStore{trades: map[string]*domain.PaperTrade{}, byKey: map[string]string{}}
}

func (m *memPaperStore) Open(ctx context.Context, pt domain.PaperTrade) (bool, error) {
	if _, exists := m.byKey[pt.SignalKey]; exists {
		return false, nil // ON CONFLICT DO NOTHING
	}
	cp := pt
	m.trades[pt.ID] = &cp
	m.byKey[pt.SignalKey] = pt.ID
	return true, nil
}

func (m *memPaperStore) Close(ctx context.Context, id string, status domain.ResolutionStatus, pnl float64, at time.Time) error {
	pt, ok := m.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pt.Closed() {
		return nil
	}
	pt.Resolution = status
	pt.PnL = &pnl
	pt.ClosedAt = &at
	return nil
}

func (m *memPaperStore) ListOpen(ctx context.Context) ([]domain.PaperTrade, error) {
	var out []domain.PaperTrade
	for _, pt := range m.trades {
		if !pt.Closed() {
			out = append(out, *pt)
		}
	}
	return out, nil
}

func (m *memPaperStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	var out []domain.PaperTrade
	for _, pt := range m.trades {
		if pt.Closed() {
			out = append(out, *pt)
		}
	}
	return out, nil
}

type memSignals struct {
	domain.SignalStore
	active []domain.Signal
}

func (m *memSignals) ListActive(ctx context.Context) ([]domain.Signal, error) {
	return m.active, nil
}

type fakeSource struct {
	domain.MarketDataSource
	prices      map[string]float64
	resolutions map[string]domain.MarketResolution
}

func (f *fakeSource) GetPrice(ctx context.Context, marketID string) (float64, error) {
	p, ok := f.prices[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeSource) GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	r, ok := f.resolutions[marketID]
	if !ok {
		return domain.MarketResolution{}, domain.ErrNotFound
	}
	return r, nil
}

// recordingBus captures published payloads per channel.
type recordingBus struct {
	domain.EventBus
	published map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string][][]byte{}}
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func activeSignal(marketID string, side domain.Side) domain.Signal {
	now := time.Now().UTC()
	return domain.Signal{
		ID:              "sig-" + marketID,
		MarketID:        marketID,
		Side:            side,
		Source:          domain.SourceWhaleConsensus,
		Edge:            0.2,
		Confidence:      domain.ConfidenceMedium,
		GeneratedAt:     now,
		LastConfirmedAt: now,
		Active:          true,
	}
}

func TestRunOpensExactlyOnePositionPerSignalKey(t *testing.T) {
	store := newMemPaperStore()
	signals := &memSignals{active: []domain.Signal{activeSignal("mkt", domain.SideYes)}}
	source := &fakeSource{prices: map[string]float64{"mkt": 0.40}}

	ledger := NewLedger(store, signals, source, nil, nil, testParams(), testLogger())

	_, err := ledger.Run(context.Background())
	require.NoError(t, err)
	_, err = ledger.Run(context.Background())
	require.NoError(t, err)

	open, err := store.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1, "reconfirmed signal must not open a second position")
	assert.InDelta(t, 100.0, open[0].Stake, 1e-9)
	assert.InDelta(t, 0.40, open[0].EntryPrice, 1e-9)
}

func TestRunPublishesOpenedEventOnlyOnFirstInsert(t *testing.T) {
	store := newMemPaperStore()
	signals := &memSignals{active: []domain.Signal{activeSignal("mkt", domain.SideYes)}}
	source := &fakeSource{prices: map[string]float64{"mkt": 0.40}}
	bus := newRecordingBus()

	ledger := NewLedger(store, signals, source, bus, nil, testParams(), testLogger())

	// The signal stays active across both passes; the second pass hits the
	// store's dedup no-op and must stay silent on the bus.
	_, err := ledger.Run(context.Background())
	require.NoError(t, err)
	_, err = ledger.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, bus.published[paperChannel], 1, "dedup no-op must not re-announce the position")

	var body map[string]any
	require.NoError(t, json.Unmarshal(bus.published[paperChannel][0], &body))
	assert.Equal(t, "paper_opened", body["event"])
	assert.Equal(t, signals.active[0].Key(), body["signal_key"])
}

func TestRunNoSideEntryUsesComplementPrice(t *testing.T) {
	store := newMemPaperStore()
	signals := &memSignals{active: []domain.Signal{activeSignal("mkt", domain.SideNo)}}
	source := &fakeSource{prices: map[string]float64{"mkt": 0.40}}

	ledger := NewLedger(store, signals, source, nil, nil, testParams(), testLogger())
	_, err := ledger.Run(context.Background())
	require.NoError(t, err)

	open, _ := store.ListOpen(context.Background())
	require.Len(t, open, 1)
	assert.InDelta(t, 0.60, open[0].EntryPrice, 1e-9)
}

func TestRunClosesWithBinaryPayoutPnL(t *testing.T) {
	store := newMemPaperStore()
	signals := &memSignals{active: []domain.Signal{
		activeSignal("winner", domain.SideYes),
		activeSignal("loser", domain.SideNo),
		activeSignal("voided", domain.SideYes),
	}}
	source := &fakeSource{prices: map[string]float64{
		"winner": 0.40,
		"loser":  0.50,
		"voided": 0.50,
	}}

	ledger := NewLedger(store, signals, source, nil, nil, testParams(), testLogger())
	_, err := ledger.Run(context.Background())
	require.NoError(t, err)

	source.resolutions = map[string]domain.MarketResolution{
		"winner": {MarketID: "winner", Resolved: true, Winner: domain.SideYes},
		"loser":  {MarketID: "loser", Resolved: true, Winner: domain.SideYes},
		"voided": {MarketID: "voided", Resolved: true, Void: true},
	}

	perf, err := ledger.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 1, perf.Losses)
	assert.Equal(t, 1, perf.Voids)

	closed, _ := store.ListClosed(context.Background(), domain.ListOpts{})
	byMarket := map[string]domain.PaperTrade{}
	for _, pt := range closed {
		byMarket[pt.MarketID] = pt
	}
	// Win at entry 0.40: 100 * (1/0.40 - 1) = 150.
	assert.InDelta(t, 150.0, *byMarket["winner"].PnL, 1e-9)
	// Losing side forfeits the stake.
	assert.InDelta(t, -100.0, *byMarket["loser"].PnL, 1e-9)
	// Void returns the stake.
	assert.Zero(t, *byMarket["voided"].PnL)
}

func closedTrade(key string, status domain.ResolutionStatus, stake, entry float64, at time.Time) domain.PaperTrade {
	pnl := domain.SettlementPnL(status, stake, entry)
	return domain.PaperTrade{
		ID:         "pt-" + key,
		SignalKey:  key,
		MarketID:   key,
		Side:       domain.SideYes,
		Stake:      stake,
		EntryPrice: entry,
		OpenedAt:   at.Add(-time.Hour),
		Resolution: status,
		PnL:        &pnl,
		ClosedAt:   &at,
	}
}

func TestComputePerformanceAggregates(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	closed := []domain.PaperTrade{
		closedTrade("a", domain.ResolvedWin, 100, 0.50, base),              // +100
		closedTrade("b", domain.ResolvedLoss, 100, 0.50, base.Add(time.Hour)), // -100
		closedTrade("c", domain.ResolvedWin, 100, 0.25, base.Add(2*time.Hour)), // +300
		closedTrade("d", domain.ResolvedVoid, 100, 0.50, base.Add(3*time.Hour)), // 0
	}

	perf := ComputePerformance(2, closed, testParams(), base.Add(4*time.Hour))

	assert.Equal(t, 2, perf.OpenCount)
	assert.Equal(t, 4, perf.ClosedCount)
	assert.InDelta(t, 300.0, perf.TotalPnL, 1e-9)
	assert.InDelta(t, 2.0/3.0, perf.WinRate, 1e-9, "voids are excluded from win rate")
	assert.Positive(t, perf.ReturnVolatility)
	assert.False(t, perf.Degraded)
}

func TestComputePerformanceStopLossCeiling(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var closed []domain.PaperTrade
	for i := 0; i < 6; i++ {
		closed = append(closed, closedTrade(string(rune('a'+i)), domain.ResolvedLoss, 100, 0.50, base.Add(time.Duration(i)*time.Hour)))
	}

	perf := ComputePerformance(0, closed, testParams(), base.Add(24*time.Hour))
	assert.InDelta(t, -600.0, perf.TotalPnL, 1e-9)
	assert.True(t, perf.Degraded, "cumulative loss past the ceiling must flag degradation")
}

func TestComputePerformanceWinRateFloorNeedsMinimumSample(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	params := Params{Stake: 100, StopLossUSD: 10_000, StopMinWinRate: 0.40, StopMinSample: 20}

	// Five losses: terrible rate, but the sample is too small to judge.
	var small []domain.PaperTrade
	for i := 0; i < 5; i++ {
		small = append(small, closedTrade(string(rune('a'+i)), domain.ResolvedLoss, 100, 0.90, base.Add(time.Duration(i)*time.Hour)))
	}
	perf := ComputePerformance(0, small, params, base.Add(24*time.Hour))
	assert.False(t, perf.Degraded)

	// Twenty decided trades at 25% win rate trips the floor.
	var large []domain.PaperTrade
	for i := 0; i < 20; i++ {
		status := domain.ResolvedLoss
		if i < 5 {
			status = domain.ResolvedWin
		}
		large = append(large, closedTrade(string(rune('A'+i)), status, 100, 0.90, base.Add(time.Duration(i)*time.Hour)))
	}
	perf = ComputePerformance(0, large, params, base.Add(48*time.Hour))
	assert.InDelta(t, 0.25, perf.WinRate, 1e-9)
	assert.True(t, perf.Degraded)
}

var _ domain.PaperTradeStore = (*memPaperStore)(nil)
