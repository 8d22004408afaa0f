package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// TraderProfileStore implements domain.TraderProfileStore using PostgreSQL.
type TraderProfileStore struct {
	pool *pgxpool.Pool
}

// NewTraderProfileStore creates a new TraderProfileStore backed by the given
// connection pool.
func NewTraderProfileStore(pool *pgxpool.Pool) *TraderProfileStore {
	return &TraderProfileStore{pool: pool}
}

const profileSelectCols = `trader_id, wins, losses, voids, resolved_count,
	realized_pnl, profit_factor, max_drawdown, category_win_rates,
	skill_score, qualified, updated_at`

func scanProfile(row pgx.Row) (domain.TraderProfile, error) {
	var p domain.TraderProfile
	var ratesJSON []byte
	err := row.Scan(
		&p.TraderID, &p.Wins, &p.Losses, &p.Voids, &p.ResolvedCount,
		&p.RealizedPnL, &p.ProfitFactor, &p.MaxDrawdown, &ratesJSON,
		&p.SkillScore, &p.Qualified, &p.UpdatedAt,
	)
	if err != nil {
		return domain.TraderProfile{}, err
	}
	if len(ratesJSON) > 0 {
		if err := json.Unmarshal(ratesJSON, &p.CategoryWinRates); err != nil {
			return domain.TraderProfile{}, fmt.Errorf("unmarshal category win rates: %w", err)
		}
	}
	return p, nil
}

// UpsertBatch writes the recomputed profiles in one batch. Profiles are
// replaced wholesale; there is no incremental update path.
func (s *TraderProfileStore) UpsertBatch(ctx context.Context, profiles []domain.TraderProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trader_profiles (
			trader_id, wins, losses, voids, resolved_count,
			realized_pnl, profit_factor, max_drawdown, category_win_rates,
			skill_score, qualified, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (trader_id) DO UPDATE SET
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			voids = EXCLUDED.voids,
			resolved_count = EXCLUDED.resolved_count,
			realized_pnl = EXCLUDED.realized_pnl,
			profit_factor = EXCLUDED.profit_factor,
			max_drawdown = EXCLUDED.max_drawdown,
			category_win_rates = EXCLUDED.category_win_rates,
			skill_score = EXCLUDED.skill_score,
			qualified = EXCLUDED.qualified,
			updated_at = EXCLUDED.updated_at`

	for _, p := range profiles {
		rates := p.CategoryWinRates
		if rates == nil {
			rates = map[string]float64{}
		}
		ratesJSON, err := json.Marshal(rates)
		if err != nil {
			return fmt.Errorf("postgres: marshal category win rates for %s: %w", p.TraderID, err)
		}
		batch.Queue(query,
			p.TraderID, p.Wins, p.Losses, p.Voids, p.ResolvedCount,
			p.RealizedPnL, p.ProfitFactor, p.MaxDrawdown, ratesJSON,
			p.SkillScore, p.Qualified, p.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range profiles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert profile batch item %d: %w", i, err)
		}
	}
	return nil
}

// Get returns a single trader profile, or domain.ErrNotFound.
func (s *TraderProfileStore) Get(ctx context.Context, traderID string) (domain.TraderProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileSelectCols+` FROM trader_profiles WHERE trader_id = $1`,
		traderID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TraderProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TraderProfile{}, fmt.Errorf("postgres: get profile %s: %w", traderID, err)
	}
	return p, nil
}

// ListQualified returns every currently-qualified trader, best score first.
func (s *TraderProfileStore) ListQualified(ctx context.Context) ([]domain.TraderProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileSelectCols+` FROM trader_profiles
		 WHERE qualified
		 ORDER BY skill_score DESC, resolved_count DESC, realized_pnl DESC, trader_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list qualified profiles: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

// Leaderboard returns the top traders by skill score. Ties break on resolved
// count, then realized PnL, then trader ID for stability.
func (s *TraderProfileStore) Leaderboard(ctx context.Context, limit int) ([]domain.TraderProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileSelectCols+` FROM trader_profiles
		 ORDER BY skill_score DESC, resolved_count DESC, realized_pnl DESC, trader_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

func collectProfiles(rows pgx.Rows) ([]domain.TraderProfile, error) {
	var profiles []domain.TraderProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Compile-time interface check.
var _ domain.TraderProfileStore = (*TraderProfileStore)(nil)
