package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceCache is an advisory read-through cache of committed balances.
// It never holds authority: writers invalidate entries and never update them in place.
type BalanceCache interface {
	// Get returns the cached balance and whether an unexpired entry was found
	Get(ctx context.Context, id AccountID) (decimal.Decimal, bool, error)

	Put(ctx context.Context, id AccountID, balance decimal.Decimal, ttl time.Duration) error

	Invalidate(ctx context.Context, id AccountID) error
}
