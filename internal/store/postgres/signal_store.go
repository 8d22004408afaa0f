package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL. A partial
// unique index on (market_id, side, source) WHERE active enforces the
// one-active-signal-per-key invariant at the storage layer.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, market_id, side, source, edge, confidence,
	generated_at, last_confirmed_at, active, payload`

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var sig domain.Signal
	var payloadJSON []byte
	err := row.Scan(
		&sig.ID, &sig.MarketID, &sig.Side, &sig.Source, &sig.Edge,
		&sig.Confidence, &sig.GeneratedAt, &sig.LastConfirmedAt,
		&sig.Active, &payloadJSON,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &sig.Payload); err != nil {
			return domain.Signal{}, fmt.Errorf("unmarshal signal payload: %w", err)
		}
	}
	return sig, nil
}

// Insert stores a new signal. It returns domain.ErrAlreadyExists when an
// active signal with the same dedup key is already present.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) error {
	payload := sig.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal payload: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO signals (
			id, market_id, side, source, edge, confidence,
			generated_at, last_confirmed_at, active, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_id, side, source) WHERE active DO NOTHING`,
		sig.ID, sig.MarketID, sig.Side, sig.Source, sig.Edge, sig.Confidence,
		sig.GeneratedAt, sig.LastConfirmedAt, sig.Active, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Confirm refreshes an active signal's last-confirmed timestamp and edge.
func (s *SignalStore) Confirm(ctx context.Context, id string, edge float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET last_confirmed_at = $2, edge = $3 WHERE id = $1 AND active`,
		id, at, edge,
	)
	if err != nil {
		return fmt.Errorf("postgres: confirm signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Retire deactivates a signal. The row is retained for history.
func (s *SignalStore) Retire(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET active = FALSE WHERE id = $1 AND active`, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: retire signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RetireStale deactivates every active signal whose last confirmation is
// older than the cutoff. Returns the number retired.
func (s *SignalStore) RetireStale(ctx context.Context, unconfirmedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET active = FALSE WHERE active AND last_confirmed_at < $1`,
		unconfirmedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: retire stale signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetActiveByKey returns the active signal for a dedup key, or
// domain.ErrNotFound.
func (s *SignalStore) GetActiveByKey(ctx context.Context, marketID string, side domain.Side, source domain.SignalSource) (domain.Signal, error) {
	sig, err := scanSignal(s.pool.QueryRow(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE market_id = $1 AND side = $2 AND source = $3 AND active`,
		marketID, side, source,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Signal{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Signal{}, fmt.Errorf("postgres: get active signal %s/%s/%s: %w", marketID, side, source, err)
	}
	return sig, nil
}

// ListActive returns all active signals, newest first.
func (s *SignalStore) ListActive(ctx context.Context) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals WHERE active ORDER BY generated_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active signals: %w", err)
	}
	defer rows.Close()

	return collectSignals(rows)
}

// ListByMarket returns a market's signal history, active or not.
func (s *SignalStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND generated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND generated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY generated_at DESC"

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
		return nil, fmt.Errorf("postgres: list signals by market %s: %w", marketID, err)
	}
	defer rows.Close()

	return collectSignals(rows)
}

func collectSignals(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
