package repository

import (
	"context"
	"log"
)

// HybridRepository implements cache-aside over the archive:
// - Write: PostgreSQL first (source of truth, idempotent), Redis best effort
// - Read: Redis first, fallback to PostgreSQL on miss or error
type HybridRepository struct {
	redis    *RedisRepository
	postgres *PostgresRepository
}

func NewHybridRepository(redis *RedisRepository, postgres *PostgresRepository) *HybridRepository {
	return &HybridRepository{
		redis:    redis,
		postgres: postgres,
	}
}

// ArchiveSettlement writes through: archive first, board update best effort.
func (h *HybridRepository) ArchiveSettlement(ctx context.Context, rec SettlementRecord) error {
	if err := h.postgres.ArchiveSettlement(ctx, rec); err != nil {
		return err
	}

	if err := h.redis.ArchiveSettlement(ctx, rec); err != nil {
		// PostgreSQL is the source of truth; a stale board self-heals on the
		// next cache warm.
		log.Printf("Warning: failed to update Redis fee board for pool %s: %v", rec.PoolID, err)
	}
	return nil
}

// TopPoolsByFee tries the Redis board first, falling back to the archive.
func (h *HybridRepository) TopPoolsByFee(ctx context.Context, n int) ([]PoolFeeEntry, error) {
	entries, err := h.redis.TopPoolsByFee(ctx, n)
	if err == nil && len(entries) > 0 {
		return entries, nil
	}
	if err != nil {
		log.Printf("Redis TopPoolsByFee failed, falling back to PostgreSQL: %v", err)
	}

	entries, err = h.postgres.TopPoolsByFee(ctx, n)
	if err != nil {
		return nil, err
	}

	// Warm the board asynchronously (best effort).
	go func() {
		ctx := context.Background()
		for _, entry := range entries {
			if err := h.redis.SetPoolFee(ctx, entry.PoolID, entry.Fee); err != nil {
				log.Printf("Failed to warm fee board for pool %s: %v", entry.PoolID, err)
			}
		}
	}()

	return entries, nil
}

// RecentSettlements tries the Redis list first, falling back to the archive.
func (h *HybridRepository) RecentSettlements(ctx context.Context, poolID string, limit int) ([]SettlementRecord, error) {
	records, err := h.redis.RecentSettlements(ctx, poolID, limit)
	if err == nil && len(records) > 0 {
		return records, nil
	}
	if err != nil {
		log.Printf("Redis RecentSettlements failed for pool %s, falling back to PostgreSQL: %v", poolID, err)
	}
	return h.postgres.RecentSettlements(ctx, poolID, limit)
}

// WarmCache rebuilds the Redis fee board from the archive. Called at startup.
func (h *HybridRepository) WarmCache(ctx context.Context) error {
	entries, err := h.postgres.TopPoolsByFee(ctx, 1000)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := h.redis.SetPoolFee(ctx, entry.PoolID, entry.Fee); err != nil {
			log.Printf("Error warming fee board for pool %s: %v", entry.PoolID, err)
		}
	}
	log.Printf("Fee board warmed: %d pools loaded", len(entries))
	return nil
}
