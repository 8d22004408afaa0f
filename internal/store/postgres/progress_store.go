package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// BackfillProgressStore implements domain.BackfillProgressStore using
// PostgreSQL.
type BackfillProgressStore struct {
	pool *pgxpool.Pool
}

// NewBackfillProgressStore creates a new BackfillProgressStore backed by the
// given connection pool.
func NewBackfillProgressStore(pool *pgxpool.Pool) *BackfillProgressStore {
	return &BackfillProgressStore{pool: pool}
}

// Save upserts a progress heartbeat. Counters are clamped monotonic within a
// run: a write can never move checked or resolved backwards, so a delayed
// heartbeat arriving out of order cannot make the supervisor believe progress
// regressed.
func (s *BackfillProgressStore) Save(ctx context.Context, p domain.BackfillProgress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO backfill_progress (run_id, checked, total, resolved, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id) DO UPDATE SET
			checked = GREATEST(backfill_progress.checked, EXCLUDED.checked),
			total = EXCLUDED.total,
			resolved = GREATEST(backfill_progress.resolved, EXCLUDED.resolved),
			updated_at = EXCLUDED.updated_at`,
		p.RunID, p.Checked, p.Total, p.Resolved, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save backfill progress %s: %w", p.RunID, err)
	}
	return nil
}

// Latest returns the most recently updated progress row, or
// domain.ErrNotFound when no backfill has ever run.
func (s *BackfillProgressStore) Latest(ctx context.Context) (domain.BackfillProgress, error) {
	var p domain.BackfillProgress
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, checked, total, resolved, updated_at
		 FROM backfill_progress ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&p.RunID, &p.Checked, &p.Total, &p.Resolved, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BackfillProgress{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BackfillProgress{}, fmt.Errorf("postgres: latest backfill progress: %w", err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.BackfillProgressStore = (*BackfillProgressStore)(nil)
