package domain

import "time"

// Snapshot is one consistent point-in-time view of the whole pipeline,
// rebuilt only from passes in which every input succeeded. Consumers always
// see the last good snapshot plus its timestamp.
type Snapshot struct {
	Leaderboard   []TraderProfile   `json:"leaderboard"`
	Consensus     []MarketConsensus `json:"consensus"`
	ActiveSignals []Signal          `json:"active_signals"`
	Paper         PaperPerformance  `json:"paper"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// OutcomeStatus grades one component's run within a scheduler pass.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ComponentOutcome is the structured result of one component in one pass.
type ComponentOutcome struct {
	Component string         `json:"component"`
	Status    OutcomeStatus  `json:"status"`
	Error     string         `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// PassReport summarizes a full scheduler pass. A failed component never
// aborts the pass; it is recorded here and the next tick retries.
type PassReport struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Outcomes   []ComponentOutcome `json:"outcomes"`
	Degraded   bool               `json:"degraded"`
}

// Succeeded reports whether every component in the pass completed.
func (r PassReport) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status != OutcomeCompleted {
			return false
		}
	}
	return len(r.Outcomes) > 0
}
