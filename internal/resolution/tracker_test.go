package resolution

import (
	"context"
	"fmt"
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

// fakeTradeStore implements just enough of domain.TradeStore for the tracker.
type fakeTradeStore struct {
	domain.TradeStore
	trades map[string][]domain.Trade // by market
	marked []markCall
}

type markCall struct {
	id     int64
	status domain.ResolutionStatus
	pnl    float64
}

func (f *fakeTradeStore) UnresolvedMarketIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.trades))
	for id := range f.trades {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeTradeStore) ListUnresolvedByMarket(ctx context.Context, marketID string) ([]domain.Trade, error) {
	return f.trades[marketID], nil
}

func (f *fakeTradeStore) MarkResolved(ctx context.Context, id int64, status domain.ResolutionStatus, pnl float64, at time.Time) error {
	f.marked = append(f.marked, markCall{id: id, status: status, pnl: pnl})
	return nil
}

// settlingTradeStore mirrors the real store's transition guard: MarkResolved
// only moves a trade that is still unresolved, and settled markets drop out
// of UnresolvedMarketIDs.
type settlingTradeStore struct {
	domain.TradeStore
	unresolved map[string][]domain.Trade // by market
	marked     []markCall
}

func (f *settlingTradeStore) UnresolvedMarketIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.unresolved))
	for id, trades := range f.unresolved {
		if len(trades) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *settlingTradeStore) ListUnresolvedByMarket(ctx context.Context, marketID string) ([]domain.Trade, error) {
	out := make([]domain.Trade, len(f.unresolved[marketID]))
	copy(out, f.unresolved[marketID])
	return out, nil
}

func (f *settlingTradeStore) MarkResolved(ctx context.Context, id int64, status domain.ResolutionStatus, pnl float64, at time.Time) error {
	for marketID, trades := range f.unresolved {
		for i, tr := range trades {
			if tr.ID == id {
				f.unresolved[marketID] = append(trades[:i], trades[i+1:]...)
				f.marked = append(f.marked, markCall{id: id, status: status, pnl: pnl})
				return nil
			}
		}
	}
	return nil // already settled: WHERE clause matches no row
}

// fakeSource returns canned resolutions and can be made to fail.
type fakeSource struct {
	domain.MarketDataSource
	resolutions map[string]domain.MarketResolution
	errs        map[string]error
	calls       int
}

func (f *fakeSource) GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	f.calls++
	if err, ok := f.errs[marketID]; ok {
		return domain.MarketResolution{}, err
	}
	return f.resolutions[marketID], nil
}

type fakeProgress struct {
	saves []domain.BackfillProgress
}

func (f *fakeProgress) Save(ctx context.Context, p domain.BackfillProgress) error {
	f.saves = append(f.saves, p)
	return nil
}

func (f *fakeProgress) Latest(ctx context.Context) (domain.BackfillProgress, error) {
	if len(f.saves) == 0 {
		return domain.BackfillProgress{}, domain.ErrNotFound
	}
	return f.saves[len(f.saves)-1], nil
}

func TestSweepSettlesTradesWithCorrectPnL(t *testing.T) {
	store := &fakeTradeStore{trades: map[string][]domain.Trade{
		"mkt-1": {
			{ID: 1, MarketID: "mkt-1", Side: domain.SideYes, Size: 100, EntryPrice: 0.40},
			{ID: 2, MarketID: "mkt-1", Side: domain.SideNo, Size: 50, EntryPrice: 0.60},
		},
	}}
	source := &fakeSource{resolutions: map[string]domain.MarketResolution{
		"mkt-1": {MarketID: "mkt-1", Resolved: true, Winner: domain.SideYes},
	}}

	tr := NewTracker(store, source, &fakeProgress{}, nil, 10, testLogger())
	res, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.MarketsChecked)
	assert.Equal(t, 1, res.MarketsResolved)
	assert.Equal(t, 2, res.TradesResolved)
	assert.False(t, res.Paused)

	require.Len(t, store.marked, 2)
	// YES trade at 0.40 wins: 100/0.40 - 100 = 150.
	assert.Equal(t, domain.ResolvedWin, store.marked[0].status)
	assert.InDelta(t, 150.0, store.marked[0].pnl, 1e-9)
	// NO trade loses its stake.
	assert.Equal(t, domain.ResolvedLoss, store.marked[1].status)
	assert.InDelta(t, -50.0, store.marked[1].pnl, 1e-9)
}

func TestSweepVoidedMarketReturnsStake(t *testing.T) {
	store := &fakeTradeStore{trades: map[string][]domain.Trade{
		"mkt-void": {
			{ID: 7, MarketID: "mkt-void", Side: domain.SideYes, Size: 100, EntryPrice: 0.5},
		},
	}}
	source := &fakeSource{resolutions: map[string]domain.MarketResolution{
		"mkt-void": {MarketID: "mkt-void", Resolved: true, Void: true},
	}}

	tr := NewTracker(store, source, &fakeProgress{}, nil, 10, testLogger())
	_, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, store.marked, 1)
	assert.Equal(t, domain.ResolvedVoid, store.marked[0].status)
	assert.Zero(t, store.marked[0].pnl)
}

func TestSweepRerunOverSettledBatchWritesNothing(t *testing.T) {
	store := &settlingTradeStore{unresolved: map[string][]domain.Trade{
		"mkt-1": {
			{ID: 1, MarketID: "mkt-1", Side: domain.SideYes, Size: 100, EntryPrice: 0.40},
			{ID: 2, MarketID: "mkt-1", Side: domain.SideNo, Size: 50, EntryPrice: 0.60},
		},
		"mkt-2": {
			{ID: 3, MarketID: "mkt-2", Side: domain.SideYes, Size: 25, EntryPrice: 0.50},
		},
	}}
	source := &fakeSource{resolutions: map[string]domain.MarketResolution{
		"mkt-1": {MarketID: "mkt-1", Resolved: true, Winner: domain.SideYes},
		"mkt-2": {MarketID: "mkt-2", Resolved: true, Void: true},
	}}

	tr := NewTracker(store, source, &fakeProgress{}, nil, 10, testLogger())
	res, err := tr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.TradesResolved)
	require.Len(t, store.marked, 3)

	// The whole batch is settled now; a second sweep must not touch the
	// store or the source again.
	callsAfterFirst := source.calls
	res, err = tr.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.MarketsChecked)
	assert.Zero(t, res.TradesResolved)
	assert.Len(t, store.marked, 3, "re-running over settled trades must write nothing")
	assert.Equal(t, callsAfterFirst, source.calls)
}

func TestSweepSkipsUnresolvedMarkets(t *testing.T) {
	store := &fakeTradeStore{trades: map[string][]domain.Trade{
		"mkt-open": {{ID: 1, MarketID: "mkt-open", Side: domain.SideYes, Size: 10, EntryPrice: 0.5}},
	}}
	source := &fakeSource{resolutions: map[string]domain.MarketResolution{
		"mkt-open": {MarketID: "mkt-open", Resolved: false},
	}}

	tr := NewTracker(store, source, &fakeProgress{}, nil, 10, testLogger())
	res, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.MarketsChecked)
	assert.Zero(t, res.MarketsResolved)
	assert.Empty(t, store.marked)
}

func TestSweepPausesAfterConsecutiveFailures(t *testing.T) {
	trades := map[string][]domain.Trade{}
	errs := map[string]error{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("mkt-%d", i)
		trades[id] = []domain.Trade{{ID: int64(i), MarketID: id, Side: domain.SideYes, Size: 10, EntryPrice: 0.5}}
		errs[id] = fmt.Errorf("boom: %w", domain.ErrSourceUnavailable)
	}
	store := &fakeTradeStore{trades: trades}
	source := &fakeSource{errs: errs}

	tr := NewTracker(store, source, &fakeProgress{}, nil, 3, testLogger())
	res, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Paused)
	assert.Equal(t, 3, res.Failures)
	assert.Equal(t, 3, source.calls, "pause must stop further source calls")
}

func TestSweepNotFoundDoesNotCountAsFailure(t *testing.T) {
	store := &fakeTradeStore{trades: map[string][]domain.Trade{
		"gone": {{ID: 1, MarketID: "gone", Side: domain.SideYes, Size: 10, EntryPrice: 0.5}},
	}}
	source := &fakeSource{errs: map[string]error{
		"gone": fmt.Errorf("fetch: %w", domain.ErrNotFound),
	}}

	tr := NewTracker(store, source, &fakeProgress{}, nil, 1, testLogger())
	res, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Paused)
	assert.Zero(t, res.Failures)
	assert.Empty(t, store.marked)
}

func TestBackfillWritesMonotonicHeartbeats(t *testing.T) {
	store := &fakeTradeStore{trades: map[string][]domain.Trade{
		"a": {{ID: 1, MarketID: "a", Side: domain.SideYes, Size: 10, EntryPrice: 0.5}},
		"b": {{ID: 2, MarketID: "b", Side: domain.SideNo, Size: 10, EntryPrice: 0.5}},
	}}
	source := &fakeSource{resolutions: map[string]domain.MarketResolution{
		"a": {MarketID: "a", Resolved: true, Winner: domain.SideYes},
		"b": {MarketID: "b", Resolved: true, Winner: domain.SideYes},
	}}
	progress := &fakeProgress{}

	tr := NewTracker(store, source, progress, nil, 10, testLogger())
	res, err := tr.Backfill(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.MarketsChecked)
	assert.Equal(t, 2, res.TradesResolved)

	// Initial heartbeat plus one per market.
	require.Len(t, progress.saves, 3)
	runID := progress.saves[0].RunID
	assert.NotEmpty(t, runID)

	var prev int64 = -1
	for _, p := range progress.saves {
		assert.Equal(t, runID, p.RunID)
		assert.Equal(t, int64(2), p.Total)
		assert.GreaterOrEqual(t, p.Checked, prev, "checked must never regress within a run")
		prev = p.Checked
	}
	assert.True(t, progress.saves[len(progress.saves)-1].Complete())
}

func TestBackfillPausesAndReportsSourceUnavailable(t *testing.T) {
	trades := map[string][]domain.Trade{}
	errs := map[string]error{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("m-%d", i)
		trades[id] = []domain.Trade{{ID: int64(i), MarketID: id, Side: domain.SideYes, Size: 10, EntryPrice: 0.5}}
		errs[id] = fmt.Errorf("down: %w", domain.ErrSourceUnavailable)
	}
	store := &fakeTradeStore{trades: trades}
	source := &fakeSource{errs: errs}
	progress := &fakeProgress{}

	tr := NewTracker(store, source, progress, nil, 2, testLogger())
	res, err := tr.Backfill(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.True(t, res.Paused)

	// Heartbeats were still written for the markets that were attempted.
	last := progress.saves[len(progress.saves)-1]
	assert.Equal(t, int64(2), last.Checked)
	assert.False(t, last.Complete())
}
