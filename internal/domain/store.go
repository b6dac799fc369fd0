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

// MarketStore persists market lifecycle snapshots. The engine's in-memory
// arena is authoritative; the store is the durable mirror read by the
// operator API and the archiver.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	ListByState(ctx context.Context, state MarketState, opts ListOpts) ([]Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists position snapshots: sealed handles plus the
// plaintext claimed flag.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, marketID uint64, bettor common.Address) (Position, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Position, error)
	MarkClaimed(ctx context.Context, marketID uint64, bettor common.Address, at time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SettlementStore persists settlement records until the archiver moves them
// to cold storage.
type SettlementStore interface {
	Insert(ctx context.Context, rec SettlementRecord) error
	Get(ctx context.Context, marketID uint64) (SettlementRecord, error)
	ListBefore(ctx context.Context, before time.Time, opts ListOpts) ([]SettlementRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettlementRecord is the archived record of a resolved market: the revealed
// totals, the outcome, and the proof that justified trusting them.
type SettlementRecord struct {
	MarketID   uint64    `json:"market_id"`
	Question   string    `json:"question"`
	Outcome    Outcome   `json:"outcome"`
	YesTotal   uint64    `json:"yes_total"`
	NoTotal    uint64    `json:"no_total"`
	FeeBps     uint64    `json:"fee_bps"`
	ProofJSON  []byte    `json:"proof"`
	ResolvedAt time.Time `json:"resolved_at"`
}
