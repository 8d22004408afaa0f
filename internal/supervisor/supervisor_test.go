package supervisor

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

type stubProgress struct {
	latest domain.BackfillProgress
	err    error
}

func (s *stubProgress) Save(ctx context.Context, p domain.BackfillProgress) error { return nil }

func (s *stubProgress) Latest(ctx context.Context) (domain.BackfillProgress, error) {
	if s.err != nil {
		return domain.BackfillProgress{}, s.err
	}
	return s.latest, nil
}

func testSupParams() Params {
	return Params{
		CheckInterval:  30 * time.Second,
		StallWindow:    5 * time.Minute,
		RestartLockTTL: time.Minute,
	}
}

func newTestSupervisor(progress *stubProgress, restarted *int) *Supervisor {
	restart := func(ctx context.Context) error {
		*restarted++
		return nil
	}
	return NewSupervisor(progress, nil, restart, nil, testSupParams(), testLogger())
}

func TestObserveAdvancingProgressStaysRunning(t *testing.T) {
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 10, Total: 100}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now))

	// Progress keeps moving: even past the stall window no restart fires.
	progress.latest.Checked = 20
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(6*time.Minute)))
	progress.latest.Checked = 30
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(12*time.Minute)))
	assert.Zero(t, restarts)
}

func TestObserveStallIssuesExactlyOneRestart(t *testing.T) {
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 10, Total: 100}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	sup.Observe(context.Background(), now)

	// Checked frozen inside the window: still running.
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(4*time.Minute)))
	assert.Zero(t, restarts)

	// Frozen past the window: one restart, then back to RUNNING.
	assert.Equal(t, StateStalled, sup.Observe(context.Background(), now.Add(6*time.Minute)))
	assert.Equal(t, 1, restarts)
	assert.Equal(t, StateRunning, sup.State())

	// Timer was reset: the next observations inside a fresh window do not
	// restart again.
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(8*time.Minute)))
	assert.Equal(t, 1, restarts)

	// A second full stall window with no progress fires a second restart.
	assert.Equal(t, StateStalled, sup.Observe(context.Background(), now.Add(12*time.Minute)))
	assert.Equal(t, 2, restarts)
}

func TestObserveCompleteIsTerminal(t *testing.T) {
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 100, Total: 100}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, StateComplete, sup.Observe(context.Background(), now))

	// No further restarts, ever, even if the heartbeat goes weird later.
	progress.latest = domain.BackfillProgress{RunID: "r2", Checked: 0, Total: 50}
	assert.Equal(t, StateComplete, sup.Observe(context.Background(), now.Add(time.Hour)))
	assert.Zero(t, restarts)
}

func TestObserveZeroTotalIsNeverComplete(t *testing.T) {
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 0, Total: 0}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now))
}

func TestObserveErrorsNeverCountAsStall(t *testing.T) {
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 10, Total: 100}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	sup.Observe(context.Background(), now)

	// The heartbeat source goes away for longer than the stall window.
	progress.err = domain.ErrSourceUnavailable
	for i := 1; i <= 20; i++ {
		assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(time.Duration(i)*time.Minute)))
	}
	assert.Zero(t, restarts, "observation failures are not stalls")

	// Once readable again and advancing, life continues normally.
	progress.err = nil
	progress.latest.Checked = 20
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(21*time.Minute)))
	assert.Zero(t, restarts)
}

func TestObserveNewRunResetsStallTimer(t *testing.T) {
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 50, Total: 100}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	sup.Observe(context.Background(), now)

	// A restarted run begins with lower counters; the RunID change alone
	// counts as advance.
	progress.latest = domain.BackfillProgress{RunID: "r2", Checked: 5, Total: 80}
	assert.Equal(t, StateRunning, sup.Observe(context.Background(), now.Add(6*time.Minute)))
	assert.Zero(t, restarts)
}

func TestObserveStalledErrorThenStallStillSingleRestart(t *testing.T) {
	// Wait for an error burst right at the stall boundary: the restart is
	// only counted once when the stall finally trips.
	progress := &stubProgress{latest: domain.BackfillProgress{RunID: "r1", Checked: 10, Total: 100}}
	var restarts int
	sup := newTestSupervisor(progress, &restarts)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	sup.Observe(context.Background(), now)

	progress.err = domain.ErrSourceUnavailable
	sup.Observe(context.Background(), now.Add(3*time.Minute))
	progress.err = nil

	sup.Observe(context.Background(), now.Add(5*time.Minute+time.Second))
	assert.Equal(t, 1, restarts)

	require.Equal(t, StateRunning, sup.State())
}
