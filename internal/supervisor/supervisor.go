// Package supervisor watches the resolution backfill for stalls and
// restarts it. It is an explicit three-state machine: RUNNING observes
// progress, STALLED fires exactly one restart and returns to RUNNING, and
// COMPLETE is terminal.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/notify"
)

// restartLockKey guards the restart command so that overlapping supervisors
// (or a retried tick) issue at most one restart per stall.
const restartLockKey = "supervisor:backfill:restart"

// State is the supervisor's position in its lifecycle.
type State string

const (
	StateRunning  State = "RUNNING"
	StateStalled  State = "STALLED"
	StateComplete State = "COMPLETE"
)

// RestartFunc relaunches the backfill. It is treated as a best-effort
// signal, not a transaction: the supervisor resets its stall timer whether
// or not the restart ultimately helps, and judges the outcome by watching
// progress afterwards.
type RestartFunc func(ctx context.Context) error

// Alerter is the outbound alert sink, satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Params tunes observation cadence and stall detection.
type Params struct {
	CheckInterval  time.Duration
	StallWindow    time.Duration
	RestartLockTTL time.Duration
}

// Supervisor watches BackfillProgress heartbeats and recovers a hung run.
type Supervisor struct {
	progress domain.BackfillProgressStore
	locks    domain.LockManager
	restart  RestartFunc
	alerter  Alerter
	logger   *slog.Logger
	params   Params

	state       State
	lastRunID   string
	lastChecked int64
	lastAdvance time.Time
	restarts    int
}

// NewSupervisor creates a Supervisor. locks may be nil, in which case
// restarts are not cross-process deduplicated; alerter may be nil.
func NewSupervisor(
	progress domain.BackfillProgressStore,
	locks domain.LockManager,
	restart RestartFunc,
	alerter Alerter,
	params Params,
	logger *slog.Logger,
) *Supervisor {
	if params.CheckInterval <= 0 {
		params.CheckInterval = 30 * time.Second
	}
	if params.StallWindow < params.CheckInterval {
		params.StallWindow = 5 * time.Minute
	}
	if params.RestartLockTTL <= 0 {
		params.RestartLockTTL = time.Minute
	}
	return &Supervisor{
		progress: progress,
		locks:    locks,
		restart:  restart,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "supervisor")),
		params:   params,
		state:    StateRunning,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.state }

// Restarts returns how many restarts this supervisor has issued.
func (s *Supervisor) Restarts() int { return s.restarts }

// Run observes progress on the configured interval until the backfill
// completes or the context is cancelled. Completion is terminal: Run
// returns nil and never restarts again.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.params.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("supervisor: %w", ctx.Err())
		case <-ticker.C:
			if s.Observe(ctx, time.Now().UTC()) == StateComplete {
				s.logger.InfoContext(ctx, "backfill complete, supervisor exiting",
					slog.Int("restarts", s.restarts),
				)
				return nil
			}
		}
	}
}

// Observe performs one observation step at the given time and returns the
// resulting state. It is the whole state machine; Run is only the timer
// around it.
func (s *Supervisor) Observe(ctx context.Context, now time.Time) State {
	if s.state == StateComplete {
		return s.state
	}

	p, err := s.progress.Latest(ctx)
	if err != nil {
		// A missing or unreadable heartbeat is a different failure class
		// from a hung worker; it never counts toward the stall window.
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "progress observation failed",
				slog.String("error", err.Error()),
			)
		}
		return s.state
	}

	if p.Complete() {
		s.state = StateComplete
		return s.state
	}

	advanced := p.RunID != s.lastRunID || p.Checked > s.lastChecked
	if advanced || s.lastAdvance.IsZero() {
		s.lastRunID = p.RunID
		s.lastChecked = p.Checked
		s.lastAdvance = now
		s.state = StateRunning
		return s.state
	}

	if now.Sub(s.lastAdvance) <= s.params.StallWindow {
		return s.state
	}

	// Stalled: fire one restart, reset the timer, go back to watching.
	s.state = StateStalled
	s.logger.WarnContext(ctx, "backfill stalled",
		slog.String("run_id", p.RunID),
		slog.Int64("checked", p.Checked),
		slog.Int64("total", p.Total),
		slog.Duration("since_advance", now.Sub(s.lastAdvance)),
	)
	s.issueRestart(ctx, p)
	s.lastAdvance = now
	s.state = StateRunning
	return StateStalled
}

// issueRestart fires the restart command under a distributed lock so a
// stall observed by several replicas produces a single restart.
func (s *Supervisor) issueRestart(ctx context.Context, p domain.BackfillProgress) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, restartLockKey, s.params.RestartLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.InfoContext(ctx, "restart already in flight elsewhere")
			} else {
				s.logger.WarnContext(ctx, "restart lock failed",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		defer unlock()
	}

	if err := s.restart(ctx); err != nil {
		s.logger.ErrorContext(ctx, "restart command failed",
			slog.String("error", err.Error()),
		)
		return
	}
	s.restarts++
	s.logger.InfoContext(ctx, "backfill restart issued",
		slog.String("run_id", p.RunID),
		slog.Int("restarts", s.restarts),
	)

	if s.alerter != nil {
		msg := fmt.Sprintf("run %s stalled at %d/%d, restart issued", p.RunID, p.Checked, p.Total)
		if err := s.alerter.Notify(ctx, notify.EventBackfillStalled, "Backfill stalled", msg); err != nil {
			s.logger.WarnContext(ctx, "stall alert failed", slog.String("error", err.Error()))
		}
	}
}
