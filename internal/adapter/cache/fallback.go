package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig controls when the primary cache is bypassed
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// DefaultBreakerConfig trips after five consecutive failures and probes again after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// FallbackCache serves from a shared primary cache and degrades to a local secondary
// when the primary fails. A circuit breaker stops calling a primary that keeps failing.
type FallbackCache struct {
	primary   domain.BalanceCache
	secondary domain.BalanceCache
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewFallbackCache creates a new FallbackCache instance
func NewFallbackCache(primary, secondary domain.BalanceCache, cfg BreakerConfig, logger *zap.Logger) *FallbackCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}

	settings := gobreaker.Settings{
		Name:        "balance-cache",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &FallbackCache{
		primary:   primary,
		secondary: secondary,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    logger,
	}
}

type lookup struct {
	balance decimal.Decimal
	found   bool
}

func (c *FallbackCache) Get(ctx context.Context, id domain.AccountID) (decimal.Decimal, bool, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		balance, found, err := c.primary.Get(ctx, id)
		return lookup{balance: balance, found: found}, err
	})
	if err == nil {
		l := result.(lookup)
		return l.balance, l.found, nil
	}

	c.logPrimaryFailure("get", err)
	return c.secondary.Get(ctx, id)
}

func (c *FallbackCache) Put(ctx context.Context, id domain.AccountID, balance decimal.Decimal, ttl time.Duration) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.primary.Put(ctx, id, balance, ttl)
	})
	if err == nil {
		return nil
	}

	c.logPrimaryFailure("put", err)
	return c.secondary.Put(ctx, id, balance, ttl)
}

// Invalidate always clears both tiers. A primary failure is returned so the caller
// knows a stale entry may survive there until its TTL runs out.
func (c *FallbackCache) Invalidate(ctx context.Context, id domain.AccountID) error {
	secondaryErr := c.secondary.Invalidate(ctx, id)

	_, primaryErr := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.primary.Invalidate(ctx, id)
	})
	if primaryErr != nil {
		primaryErr = fmt.Errorf("primary cache: %w", primaryErr)
	}

	return errors.Join(primaryErr, secondaryErr)
}

// State reports the breaker state guarding the primary
func (c *FallbackCache) State() gobreaker.State {
	return c.breaker.State()
}

func (c *FallbackCache) logPrimaryFailure(op string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return
	}
	c.logger.Debug("primary cache failed, using local cache",
		zap.String("op", op),
		zap.Error(err),
	)
}

var _ domain.BalanceCache = (*FallbackCache)(nil)
