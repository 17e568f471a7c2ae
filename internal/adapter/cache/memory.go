package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

type entry struct {
	balance   decimal.Decimal
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache. Least recently used entries are evicted first
// and expired entries are dropped when read.
type MemoryCache struct {
	entries *lru.Cache[domain.AccountID, entry]
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most size balances
func NewMemoryCache(size int) (*MemoryCache, error) {
	entries, err := lru.New[domain.AccountID, entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{entries: entries, now: time.Now}, nil
}

func (c *MemoryCache) Get(ctx context.Context, id domain.AccountID) (decimal.Decimal, bool, error) {
	e, ok := c.entries.Get(id)
	if !ok {
		return decimal.Zero, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(id)
		return decimal.Zero, false, nil
	}
	return e.balance, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, id domain.AccountID, balance decimal.Decimal, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.entries.Add(id, entry{balance: balance, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, id domain.AccountID) error {
	c.entries.Remove(id)
	return nil
}

// Len reports how many entries are held, expired ones included
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

var _ domain.BalanceCache = (*MemoryCache)(nil)
