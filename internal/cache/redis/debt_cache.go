package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultDebtTTL = 5 * time.Minute

// DebtCache implements domain.DebtCache using Redis hashes holding a JSON
// encoded DebtInFrontResult.
//
// Key schema:
//
//	{prefix}:debt:{collateral}:{id} - hash with fields "data" and "calculated_at"
type DebtCache struct {
	rdb  *redis.Client
	keys keyspace
	ttl  time.Duration
}

// NewDebtCache creates a DebtCache backed by the given Client. A
// non-positive ttl means five minutes.
func NewDebtCache(c *Client, ttl time.Duration) *DebtCache {
	if ttl <= 0 {
		ttl = defaultDebtTTL
	}
	return &DebtCache{rdb: c.Underlying(), keys: c.keys, ttl: ttl}
}

// Set stores result under its trove with the cache TTL.
func (dc *DebtCache) Set(ctx context.Context, result domain.DebtInFrontResult) error {
	ref := domain.TroveRef{CollateralType: result.CollateralType, ID: result.TroveID}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: marshal debt result %s: %w", ref.ID, err)
	}

	key := dc.keys.debt(ref)
	pipe := dc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"data", data,
		"calculated_at", result.LastCalculated.Unix(),
	)
	pipe.Expire(ctx, key, dc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set debt result %s: %w", ref.ID, err)
	}
	return nil
}

// Get returns the cached result for ref, or domain.ErrNotFound.
func (dc *DebtCache) Get(ctx context.Context, ref domain.TroveRef) (domain.DebtInFrontResult, error) {
	data, err := dc.rdb.HGet(ctx, dc.keys.debt(ref), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DebtInFrontResult{}, fmt.Errorf("redis: debt result %s/%s: %w", ref.CollateralType, ref.ID, domain.ErrNotFound)
		}
		return domain.DebtInFrontResult{}, fmt.Errorf("redis: get debt result %s: %w", ref.ID, err)
	}

	var result domain.DebtInFrontResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.DebtInFrontResult{}, fmt.Errorf("redis: unmarshal debt result %s: %w", ref.ID, err)
	}
	return result, nil
}

// Invalidate removes the cached result for ref.
func (dc *DebtCache) Invalidate(ctx context.Context, ref domain.TroveRef) error {
	if err := dc.rdb.Del(ctx, dc.keys.debt(ref)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate debt result %s: %w", ref.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DebtCache = (*DebtCache)(nil)
