package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	feeBoardKey       = "pool_fees"
	settlementListCap = 100
)

// RedisRepository keeps the fee-by-pool board in a sorted set and a capped
// per-pool list of recent settlements. It is a cache over the archive, not
// the source of truth.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func settlementsKey(poolID string) string {
	return fmt.Sprintf("settlements:%s", poolID)
}

// ArchiveSettlement bumps the pool's fee on the board and prepends the record
// to its recent-settlements list.
// ZINCRBY is O(log N); LPUSH+LTRIM keep the list capped.
func (r *RedisRepository) ArchiveSettlement(ctx context.Context, rec SettlementRecord) error {
	if rec.Fee > 0 {
		if err := r.client.ZIncrBy(ctx, feeBoardKey, float64(rec.Fee), rec.PoolID).Err(); err != nil {
			return fmt.Errorf("failed to update fee board in redis: %w", err)
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement record: %w", err)
	}
	key := settlementsKey(rec.PoolID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, settlementListCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record settlement in redis: %w", err)
	}
	return nil
}

// TopPoolsByFee reads the board with ZREVRANGE WITHSCORES.
// Time complexity: O(log N + M) where M is the number of entries returned.
func (r *RedisRepository) TopPoolsByFee(ctx context.Context, n int) ([]PoolFeeEntry, error) {
	results, err := r.client.ZRevRangeWithScores(ctx, feeBoardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get top pools from redis: %w", err)
	}

	entries := make([]PoolFeeEntry, 0, len(results))
	for i, z := range results {
		entries = append(entries, PoolFeeEntry{
			PoolID: z.Member.(string),
			Fee:    int64(z.Score),
			Rank:   i + 1,
		})
	}

	return entries, nil
}

// RecentSettlements reads the capped per-pool list, newest first.
func (r *RedisRepository) RecentSettlements(ctx context.Context, poolID string, limit int) ([]SettlementRecord, error) {
	items, err := r.client.LRange(ctx, settlementsKey(poolID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get settlements from redis: %w", err)
	}

	records := make([]SettlementRecord, 0, len(items))
	for _, item := range items {
		var rec SettlementRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settlement record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetPoolFee sets a pool's board score directly (used for cache warming).
func (r *RedisRepository) SetPoolFee(ctx context.Context, poolID string, fee int64) error {
	return r.client.ZAdd(ctx, feeBoardKey, redis.Z{
		Score:  float64(fee),
		Member: poolID,
	}).Err()
}

// BoardSize returns how many pools are on the fee board.
func (r *RedisRepository) BoardSize(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, feeBoardKey).Result()
}
