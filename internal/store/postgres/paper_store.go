package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// PaperTradeStore implements domain.PaperTradeStore using PostgreSQL. The
// UNIQUE constraint on signal_key guarantees at most one paper trade per
// signal dedup key for the lifetime of the ledger.
type PaperTradeStore struct {
	pool *pgxpool.Pool
}

// NewPaperTradeStore creates a new PaperTradeStore backed by the given
// connection pool.
func NewPaperTradeStore(pool *pgxpool.Pool) *PaperTradeStore {
	return &PaperTradeStore{pool: pool}
}

const paperSelectCols = `id, signal_key, market_id, side, stake, entry_price,
	opened_at, resolution, pnl, closed_at`

func scanPaperRows(rows pgx.Rows) ([]domain.PaperTrade, error) {
	var trades []domain.PaperTrade
	for rows.Next() {
		var pt domain.PaperTrade
		if err := rows.Scan(
			&pt.ID, &pt.SignalKey, &pt.MarketID, &pt.Side, &pt.Stake,
			&pt.EntryPrice, &pt.OpenedAt, &pt.Resolution, &pt.PnL, &pt.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, pt)
	}
	return trades, rows.Err()
}

// Open records a new paper position. Opening a key that already has a paper
// trade (open or closed) is a silent no-op, which makes signal re-detection
// safe to replay. It returns true only when this call inserted the row.
func (s *PaperTradeStore) Open(ctx context.Context, pt domain.PaperTrade) (bool, error) {
	res := pt.Resolution
	if res == "" {
		res = domain.Unresolved
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO paper_trades (
			id, signal_key, market_id, side, stake, entry_price, opened_at, resolution
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signal_key) DO NOTHING`,
		pt.ID, pt.SignalKey, pt.MarketID, pt.Side, pt.Stake, pt.EntryPrice, pt.OpenedAt, res,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: open paper trade %s: %w", pt.SignalKey, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Close settles a paper position exactly once; closing an already-closed
// trade is a no-op.
func (s *PaperTradeStore) Close(ctx context.Context, id string, status domain.ResolutionStatus, pnl float64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE paper_trades SET resolution = $2, pnl = $3, closed_at = $4
		 WHERE id = $1 AND resolution = $5`,
		id, status, pnl, at, domain.Unresolved,
	)
	if err != nil {
		return fmt.Errorf("postgres: close paper trade %s: %w", id, err)
	}
	return nil
}

// ListOpen returns every unsettled paper position.
func (s *PaperTradeStore) ListOpen(ctx context.Context) ([]domain.PaperTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paperSelectCols+` FROM paper_trades
		 WHERE resolution = $1 ORDER BY opened_at ASC, id`,
		domain.Unresolved,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open paper trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanPaperRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open paper trades: %w", err)
	}
	return trades, nil
}

// ListClosed returns settled paper positions in close order, oldest first,
// so aggregate recomputation walks the ledger chronologically.
func (s *PaperTradeStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	query := `SELECT ` + paperSelectCols + ` FROM paper_trades WHERE resolution <> $1`
	args := []any{domain.Unresolved}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at ASC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed paper trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanPaperRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed paper trades: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.PaperTradeStore = (*PaperTradeStore)(nil)
