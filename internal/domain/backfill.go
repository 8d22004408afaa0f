package domain

import "time"

// BackfillProgress is a heartbeat row written by the resolution backfill.
// Within a run the counters only grow; a new RunID resets them.
type BackfillProgress struct {
	RunID     string
	Checked   int64
	Total     int64
	Resolved  int64
	UpdatedAt time.Time
}

// Pct returns completion as a fraction in [0, 1], or 0 when the total is
// not yet known.
func (p BackfillProgress) Pct() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Checked) / float64(p.Total)
}

// Complete reports whether the run has covered every market it set out to
// check. A zero total means the run has not started and is never complete.
func (p BackfillProgress) Complete() bool {
	return p.Total > 0 && p.Checked >= p.Total
}
