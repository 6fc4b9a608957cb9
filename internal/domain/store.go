package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets. Markets are never deleted; terminal ones
// are eventually marked archived once their settlement bundle is uploaded.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Market, error)
	MarkArchived(ctx context.Context, id uint64, bundleID string, at time.Time) error
	LoadAll(ctx context.Context) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore persists encrypted bet records, one per (market, bettor).
type BetStore interface {
	Upsert(ctx context.Context, b Bet) error
	Get(ctx context.Context, marketID uint64, bettor common.Address) (Bet, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Bet, error)
	CountByMarket(ctx context.Context, marketID uint64) (int64, error)
	CountClaimedByMarket(ctx context.Context, marketID uint64) (int64, error)
	LoadAll(ctx context.Context) ([]Bet, error)
}

// PoolStore persists the pooled-value balance, a single row updated after
// every mutation that moves value in or out of the pool.
type PoolStore interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, amount uint64) error
}

// SettingsStore persists small registry-level key/value state that must
// survive restarts, such as the current oracle address.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]AuditEntry, error)
}
