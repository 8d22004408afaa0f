package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/whaletrack/internal/consensus"
	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/paper"
	"github.com/alanyoungcy/whaletrack/internal/signal"
)

type fakeProfiles struct {
	domain.TraderProfileStore
	leaderboard    []domain.TraderProfile
	leaderboardErr error
}

func (f *fakeProfiles) ListQualified(ctx context.Context) ([]domain.TraderProfile, error) {
	return nil, nil
}

func (f *fakeProfiles) Leaderboard(ctx context.Context, limit int) ([]domain.TraderProfile, error) {
	return f.leaderboard, f.leaderboardErr
}

type fakeSignals struct {
	domain.SignalStore
	active []domain.Signal
}

func (f *fakeSignals) ListActive(ctx context.Context) ([]domain.Signal, error) {
	return f.active, nil
}

func (f *fakeSignals) RetireStale(ctx context.Context, unconfirmedBefore time.Time) (int64, error) {
	return 0, nil
}

type fakePaperStore struct {
	domain.PaperTradeStore
}

func (f *fakePaperStore) ListOpen(ctx context.Context) ([]domain.PaperTrade, error) {
	return nil, nil
}

func (f *fakePaperStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	return nil, nil
}

type recordingArchiver struct {
	archived []domain.Snapshot
}

func (a *recordingArchiver) Archive(ctx context.Context, snap domain.Snapshot) (string, error) {
	a.archived = append(a.archived, snap)
	return "snapshots/test.json", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(profiles *fakeProfiles, signals *fakeSignals, archiver SnapshotArchiver) *Scheduler {
	logger := discardLogger()
	agg := consensus.NewAggregator(nil, profiles, nil, nil, consensus.Params{MinWhales: 2}, logger)
	gen := signal.NewGenerator(signals, nil, nil, nil, signal.Params{}, logger)
	return NewScheduler(
		nil, nil, agg, gen, nil,
		profiles, signals, &fakePaperStore{},
		archiver, nil,
		Params{LeaderboardSize: 10, PaperParams: paper.Params{Stake: 100}},
		logger,
	)
}

func TestExportPassSwapsSnapshotOnSuccess(t *testing.T) {
	profiles := &fakeProfiles{
		leaderboard: []domain.TraderProfile{{TraderID: "0xwhale"}},
	}
	signals := &fakeSignals{
		active: []domain.Signal{{ID: "sig-1", MarketID: "m1", Active: true}},
	}
	arch := &recordingArchiver{}
	s := newTestScheduler(profiles, signals, arch)

	_, ok := s.Snapshot()
	require.False(t, ok, "no snapshot before the first export pass")

	s.exportPass(context.Background())

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Leaderboard, 1)
	assert.Len(t, snap.ActiveSignals, 1)
	assert.False(t, snap.GeneratedAt.IsZero())

	report := s.LastReport()
	assert.True(t, report.Succeeded())
	require.Len(t, arch.archived, 1)
	assert.Equal(t, snap.GeneratedAt, arch.archived[0].GeneratedAt)
}

func TestExportPassKeepsPreviousSnapshotOnFailure(t *testing.T) {
	profiles := &fakeProfiles{
		leaderboard: []domain.TraderProfile{{TraderID: "0xwhale"}},
	}
	signals := &fakeSignals{}
	arch := &recordingArchiver{}
	s := newTestScheduler(profiles, signals, arch)

	s.exportPass(context.Background())
	first, ok := s.Snapshot()
	require.True(t, ok)

	// Break one snapshot input; the pass must grade itself failed and keep
	// serving the previous snapshot unchanged.
	profiles.leaderboardErr = errors.New("connection refused")
	s.exportPass(context.Background())

	second, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	assert.False(t, s.LastReport().Succeeded())
	assert.Len(t, arch.archived, 1, "failed pass must not archive")
}

func TestGradeOutcome(t *testing.T) {
	ok := gradeOutcome("consensus", nil, map[string]any{"markets": 3})
	assert.Equal(t, domain.OutcomeCompleted, ok.Status)
	assert.Empty(t, ok.Error)

	bad := gradeOutcome("consensus", errors.New("boom"), nil)
	assert.Equal(t, domain.OutcomeFailed, bad.Status)
	assert.Equal(t, "boom", bad.Error)
}

func TestPassReportSucceededRequiresOutcomes(t *testing.T) {
	assert.False(t, domain.PassReport{}.Succeeded())

	partial := domain.PassReport{Outcomes: []domain.ComponentOutcome{
		{Component: "consensus", Status: domain.OutcomeCompleted},
		{Component: "signals", Status: domain.OutcomePartial},
	}}
	assert.False(t, partial.Succeeded())
}
