package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

const keyPrefix = "balance:"

// RedisCache keeps balances in Redis so every server instance shares one view
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a new RedisCache instance
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, id domain.AccountID) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get cached balance: %w", err)
	}

	balance, err := decimal.NewFromString(val)
	if err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return decimal.Zero, false, nil
	}
	return balance, true, nil
}

// Put stores the balance for ttl. A non-positive ttl stores nothing: every entry must expire.
func (c *RedisCache) Put(ctx context.Context, id domain.AccountID, balance decimal.Decimal, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, keyPrefix+id.String(), balance.String(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, id domain.AccountID) error {
	if err := c.client.Del(ctx, keyPrefix+id.String()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}

var _ domain.BalanceCache = (*RedisCache)(nil)
