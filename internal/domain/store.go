package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists observed trades. The resolution tracker is the only
// writer of resolution fields.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	GetByID(ctx context.Context, id int64) (Trade, error)
	ListUnresolved(ctx context.Context, opts ListOpts) ([]Trade, error)
	ListUnresolvedByMarket(ctx context.Context, marketID string) ([]Trade, error)
	ListResolvedByTrader(ctx context.Context, traderID string, opts ListOpts) ([]Trade, error)
	TraderIDsWithResolved(ctx context.Context, minResolved int) ([]string, error)
	UnresolvedMarketIDs(ctx context.Context) ([]string, error)
	MarkResolved(ctx context.Context, id int64, status ResolutionStatus, pnl float64, at time.Time) error
	CountUnresolved(ctx context.Context) (int64, error)
}

// TraderProfileStore persists derived trader skill records.
type TraderProfileStore interface {
	UpsertBatch(ctx context.Context, profiles []TraderProfile) error
	Get(ctx context.Context, traderID string) (TraderProfile, error)
	ListQualified(ctx context.Context) ([]TraderProfile, error)
	Leaderboard(ctx context.Context, limit int) ([]TraderProfile, error)
}

// SignalStore persists signals. Uniqueness of active signals per dedup key
// is enforced by the store.
type SignalStore interface {
	Insert(ctx context.Context, sig Signal) error
	Confirm(ctx context.Context, id string, edge float64, at time.Time) error
	Retire(ctx context.Context, id string) error
	RetireStale(ctx context.Context, unconfirmedBefore time.Time) (int64, error)
	GetActiveByKey(ctx context.Context, marketID string, side Side, source SignalSource) (Signal, error)
	ListActive(ctx context.Context) ([]Signal, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Signal, error)
}

// PaperTradeStore persists the simulated ledger. Open is idempotent per
// signal key: re-opening an existing key is a no-op, and the returned bool
// reports whether this call inserted a new position.
type PaperTradeStore interface {
	Open(ctx context.Context, pt PaperTrade) (bool, error)
	Close(ctx context.Context, id string, status ResolutionStatus, pnl float64, at time.Time) error
	ListOpen(ctx context.Context) ([]PaperTrade, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]PaperTrade, error)
}

// BackfillProgressStore persists backfill heartbeats.
type BackfillProgressStore interface {
	Save(ctx context.Context, p BackfillProgress) error
	Latest(ctx context.Context) (BackfillProgress, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of pipeline decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
