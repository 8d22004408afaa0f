package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, trader_id, market_id, category, side, size,
	entry_price, entry_time, resolution, pnl, resolved_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.TraderID, &t.MarketID, &t.Category,
			&t.Side, &t.Size, &t.EntryPrice, &t.EntryTime,
			&t.Resolution, &t.PnL, &t.ResolvedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts multiple trades efficiently using pgx Batch.
// Duplicate trades (same trader, market, side, entry time) are silently
// skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			trader_id, market_id, category, side,
			size, entry_price, entry_time, resolution
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		) ON CONFLICT (trader_id, market_id, side, entry_time) DO NOTHING`

	for _, t := range trades {
		res := t.Resolution
		if res == "" {
			res = domain.Unresolved
		}
		batch.Queue(query,
			t.TraderID, t.MarketID, t.Category, t.Side,
			t.Size, t.EntryPrice, t.EntryTime, res,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByID returns a single trade, or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id int64) (domain.Trade, error) {
	var t domain.Trade
	err := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id,
	).Scan(
		&t.ID, &t.TraderID, &t.MarketID, &t.Category,
		&t.Side, &t.Size, &t.EntryPrice, &t.EntryTime,
		&t.Resolution, &t.PnL, &t.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %d: %w", id, err)
	}
	return t, nil
}

// ListUnresolved returns unresolved trades ordered by entry time.
func (s *TradeStore) ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE resolution = $1`
	args := []any{domain.Unresolved}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND entry_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND entry_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY entry_time ASC, id ASC"

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
		return nil, fmt.Errorf("postgres: list unresolved trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unresolved trades: %w", err)
	}
	return trades, nil
}

// ListUnresolvedByMarket returns the unresolved trades on a single market.
func (s *TradeStore) ListUnresolvedByMarket(ctx context.Context, marketID string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE resolution = $1 AND market_id = $2
		 ORDER BY entry_time ASC, id ASC`,
		domain.Unresolved, marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved by market %s: %w", marketID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unresolved by market %s: %w", marketID, err)
	}
	return trades, nil
}

// ListResolvedByTrader returns a trader's resolved trades ordered by
// (entry_time, id) so downstream folds are deterministic.
func (s *TradeStore) ListResolvedByTrader(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE trader_id = $1 AND resolution <> $2`
	args := []any{traderID, domain.Unresolved}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND entry_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND entry_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY entry_time ASC, id ASC"

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
		return nil, fmt.Errorf("postgres: list resolved by trader %s: %w", traderID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved by trader %s: %w", traderID, err)
	}
	return trades, nil
}

// TraderIDsWithResolved returns the IDs of traders with at least minResolved
// resolved trades.
func (s *TradeStore) TraderIDsWithResolved(ctx context.Context, minResolved int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trader_id FROM trades
		 WHERE resolution <> $1
		 GROUP BY trader_id
		 HAVING COUNT(*) >= $2
		 ORDER BY trader_id`,
		domain.Unresolved, minResolved,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: trader ids with resolved: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan trader id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UnresolvedMarketIDs returns the distinct markets that still have unresolved
// trades, ordered for deterministic backfill sweeps.
func (s *TradeStore) UnresolvedMarketIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT market_id FROM trades WHERE resolution = $1 ORDER BY market_id`,
		domain.Unresolved,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: unresolved market ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkResolved transitions a trade out of UNRESOLVED exactly once. Calling it
// again for an already-resolved trade is a no-op, which keeps resolution
// sweeps idempotent.
func (s *TradeStore) MarkResolved(ctx context.Context, id int64, status domain.ResolutionStatus, pnl float64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE trades SET resolution = $2, pnl = $3, resolved_at = $4
		 WHERE id = $1 AND resolution = $5`,
		id, status, pnl, at, domain.Unresolved,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %d resolved: %w", id, err)
	}
	return nil
}

// CountUnresolved returns the number of trades still awaiting resolution.
func (s *TradeStore) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE resolution = $1`, domain.Unresolved,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count unresolved trades: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
