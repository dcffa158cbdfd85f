package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"sareebill/backend/internal/domain"
)

const versionTTL = 24 * time.Hour

type RedisBillCache struct {
	client *redis.Client
}

func NewRedisBillCache(addr string, password string, db int) *RedisBillCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBillCache{client: client}
}

// NewRedisBillCacheFromClient wraps an existing client.
func NewRedisBillCacheFromClient(client *redis.Client) *RedisBillCache {
	return &RedisBillCache{client: client}
}

func (c *RedisBillCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBillCache) Close() error {
	return c.client.Close()
}

func (c *RedisBillCache) Version(ctx context.Context, billID int64) (int64, error) {
	version, err := c.client.Get(ctx, BillVersionKey(billID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

func (c *RedisBillCache) Get(ctx context.Context, billID int64, version int64) (*domain.BillDetail, bool, error) {
	val, err := c.client.Get(ctx, BillKey(billID, version)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var detail domain.BillDetail
	if err := json.Unmarshal([]byte(val), &detail); err != nil {
		return nil, false, err
	}
	return &detail, true, nil
}

func (c *RedisBillCache) Set(ctx context.Context, billID int64, version int64, value *domain.BillDetail, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, BillKey(billID, version), payload, ttl).Err()
}

// Invalidate bumps the generation and drops the entry it replaces. The
// generation key outlives any entry TTL so counters never move backwards
// while an entry under them can still exist.
func (c *RedisBillCache) Invalidate(ctx context.Context, billID int64) error {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, BillVersionKey(billID))
		pipe.Expire(ctx, BillVersionKey(billID), versionTTL)
		return nil
	})
	if err != nil {
		return err
	}
	return c.client.Del(ctx, BillKey(billID, incr.Val()-1)).Err()
}
