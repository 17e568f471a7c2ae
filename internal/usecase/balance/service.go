package balance

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"go.uber.org/zap"
)

// Provisioner creates accounts on first reference
type Provisioner interface {
	EnsureAccount(ctx context.Context, id domain.AccountID) (*domain.TransactionRecord, error)
}

// BalanceService answers balance queries through the cache
type BalanceService struct {
	Reader      domain.BalanceReader
	Cache       domain.BalanceCache
	Provisioner Provisioner

	ttl    time.Duration
	logger *zap.Logger
}

// NewBalanceService creates a new BalanceService instance
func NewBalanceService(reader domain.BalanceReader, cache domain.BalanceCache, provisioner Provisioner, ttl time.Duration, logger *zap.Logger) *BalanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceService{
		Reader:      reader,
		Cache:       cache,
		Provisioner: provisioner,
		ttl:         ttl,
		logger:      logger,
	}
}

// GetBalance returns the balance of an account.
// Logic:
//  1. Serve an unexpired cache entry if present
//  2. Otherwise read the committed balance from the ledger, creating the account on first reference
//  3. Populate the cache with the ledger value
//  4. Read the ledger again and drop the entry if a commit landed in between
//
// Writers invalidate after commit, so a commit after step 4 removes the entry as well.
// Cache failures are logged and the ledger is used instead.
func (s *BalanceService) GetBalance(ctx context.Context, id domain.AccountID) (decimal.Decimal, error) {
	if err := id.Validate(); err != nil {
		return decimal.Zero, domain.NewInvalidInputError("account", err.Error())
	}

	if s.Cache != nil {
		balance, ok, err := s.Cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("balance cache read failed",
				zap.String("account_id", id.String()),
				zap.Error(&domain.CacheDegradedError{Op: "get", Cause: err}),
			)
		} else if ok {
			return balance, nil
		}
	}

	account, err := s.Reader.GetAccount(ctx, id)
	if errors.Is(err, domain.ErrAccountNotFound) && s.Provisioner != nil {
		if _, err := s.Provisioner.EnsureAccount(ctx, id); err != nil {
			return decimal.Zero, err
		}
		account, err = s.Reader.GetAccount(ctx, id)
	}
	if err != nil {
		return decimal.Zero, err
	}

	if s.Cache != nil {
		s.populate(ctx, id, account.Balance)
	}

	return account.Balance, nil
}

func (s *BalanceService) populate(ctx context.Context, id domain.AccountID, balance decimal.Decimal) {
	if err := s.Cache.Put(ctx, id, balance, s.ttl); err != nil {
		s.logger.Warn("balance cache write failed",
			zap.String("account_id", id.String()),
			zap.Error(&domain.CacheDegradedError{Op: "put", Cause: err}),
		)
		return
	}

	current, err := s.Reader.GetAccount(ctx, id)
	if err == nil && current.Balance.Equal(balance) {
		return
	}

	if err := s.Cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("failed to drop superseded cache entry",
			zap.String("account_id", id.String()),
			zap.Error(&domain.CacheDegradedError{Op: "invalidate", Cause: err}),
		)
	}
}
