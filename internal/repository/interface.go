package repository

import (
	"context"
	"time"

	"github.com/nathanyu/forward-settlement/internal/domain"
)

// SettlementRecord is the archived row for one settled order. Seq is the
// global event sequence and doubles as the idempotency key.
type SettlementRecord struct {
	Seq          uint64                   `json:"seq"`
	PoolID       string                   `json:"pool_id"`
	OrderID      uint64                   `json:"order_id"`
	Outcome      domain.SettlementOutcome `json:"outcome"`
	Fee          int64                    `json:"fee"`
	SellerPayout int64                    `json:"seller_payout"`
	BuyerPayout  int64                    `json:"buyer_payout"`
	SettledAt    time.Time                `json:"settled_at"`
}

// PoolFeeEntry ranks a pool by total fee accrued.
type PoolFeeEntry struct {
	PoolID string `json:"pool_id"`
	Fee    int64  `json:"fee"`
	Rank   int    `json:"rank"`
}

// Repository is the read-model store for settlement history and the
// fee-by-pool board. Implementations: PostgreSQL-only and Redis+PostgreSQL.
type Repository interface {
	// ArchiveSettlement records a settled order. Redelivery of the same
	// sequence is a no-op.
	ArchiveSettlement(ctx context.Context, rec SettlementRecord) error

	// TopPoolsByFee returns the n pools with the highest accrued fee.
	TopPoolsByFee(ctx context.Context, n int) ([]PoolFeeEntry, error)

	// RecentSettlements returns the latest settlements for one pool.
	RecentSettlements(ctx context.Context, poolID string, limit int) ([]SettlementRecord, error)
}
