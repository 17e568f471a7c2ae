package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"github.com/simaogato/guildbank-backend/internal/usecase/validation"
	"go.uber.org/zap"
)

const sideEffectTimeout = 2 * time.Second

// errCommitUnknown marks a commit that lost its connection: the server may have applied it
var errCommitUnknown = errors.New("commit outcome unknown")

// Store is the ledger surface the engine needs: transactions plus a non-locking account lookup
type Store interface {
	domain.LedgerStore
	domain.BalanceReader
}

// RetryPolicy bounds how often a transaction hit by transient contention is replayed
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config holds the engine settings
type Config struct {
	InitialGrant decimal.Decimal
	Retry        RetryPolicy
}

// DefaultConfig returns conservative defaults: three attempts backing off from 10ms
func DefaultConfig() Config {
	return Config{
		InitialGrant: decimal.RequireFromString("1000.00"),
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    200 * time.Millisecond,
		},
	}
}

// Engine moves funds between accounts atomically and emits the audit trail.
// It is safe for concurrent use; all coordination happens through row locks in the store.
type Engine struct {
	Store     Store
	Cache     domain.BalanceCache
	Guard     *validation.Guard
	Publisher domain.EventPublisher

	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customises an Engine
type Option func(*Engine)

// WithPublisher publishes every committed record
func WithPublisher(p domain.EventPublisher) Option {
	return func(e *Engine) {
		e.Publisher = p
	}
}

// WithClock overrides the record timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep overrides how the engine waits between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// NewEngine creates a new Engine instance
func NewEngine(store Store, cache domain.BalanceCache, guard *validation.Guard, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}

	e := &Engine{
		Store:  store,
		Cache:  cache,
		Guard:  guard,
		cfg:    cfg,
		logger: logger,
		now: func() time.Time {
			// Postgres keeps microseconds; returned records must equal stored ones.
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteTransfer moves amount from source to destination.
// Logic:
//  1. Validate the request (errors returned unchanged)
//  2. In one transaction, for each account in LockOrder: provision it with the initial grant
//     if this is its first reference, then lock its row
//  3. Re-read the source balance, debit, credit and insert the transfer record
//  4. Replay the transaction on transient failures, bounded by the retry policy
//  5. After commit, invalidate both cache entries and publish the records
//
// A rejected transfer rolls back the provisioning too, so it leaves no account and no record behind.
func (e *Engine) ExecuteTransfer(ctx context.Context, source, destination domain.AccountID, amount decimal.Decimal, memo string) (*domain.TransactionRecord, error) {
	req, err := e.Guard.ValidateTransfer(validation.TransferRequest{
		SourceID:      source,
		DestinationID: destination,
		Amount:        amount,
		Memo:          memo,
	})
	if err != nil {
		return nil, err
	}

	var grants []*domain.TransactionRecord
	record, err := e.withRetry(ctx, "transfer", func(ctx context.Context, tx domain.LedgerTx) (*domain.TransactionRecord, error) {
		grants = grants[:0]

		first, second := domain.LockOrder(req.SourceID, req.DestinationID)
		for _, id := range []domain.AccountID{first, second} {
			grant, err := e.provision(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			if grant != nil {
				grants = append(grants, grant)
			}
			if _, err := tx.LockAccountForUpdate(ctx, id); err != nil {
				return nil, err
			}
		}

		balance, err := tx.ReadBalance(ctx, req.SourceID)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(req.Amount) {
			return nil, &domain.InsufficientFundsError{AccountID: req.SourceID, Balance: balance, Requested: req.Amount}
		}

		if err := tx.ApplyDelta(ctx, req.SourceID, req.Amount.Neg()); err != nil {
			return nil, err
		}
		if err := tx.ApplyDelta(ctx, req.DestinationID, req.Amount); err != nil {
			return nil, err
		}

		record := e.newRecord(domain.TransactionTypeTransfer, &req.SourceID, &req.DestinationID, req.Amount, req.Memo, nil)
		if err := tx.InsertTransactionRecord(ctx, record); err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		if domain.IsTransient(err) {
			e.recordFailure(ctx, e.newRecord(domain.TransactionTypeTransfer, &req.SourceID, &req.DestinationID, req.Amount, req.Memo, nil))
		}
		return nil, err
	}

	e.logger.Info("transfer committed",
		zap.String("transaction_id", record.ID.String()),
		zap.String("source_id", req.SourceID.String()),
		zap.String("destination_id", req.DestinationID.String()),
		zap.String("amount", req.Amount.StringFixed(2)),
	)

	e.afterCommit(ctx, append(grants, record), req.SourceID, req.DestinationID)
	return record, nil
}

// AdjustBalance credits (positive amount) or debits (negative amount) one account on behalf of an admin.
// The caller has already checked that actorID is authorized; the engine only records it.
func (e *Engine) AdjustBalance(ctx context.Context, target domain.AccountID, amount decimal.Decimal, reason, actorID string) (*domain.TransactionRecord, error) {
	req, err := e.Guard.ValidateAdjustment(validation.AdjustmentRequest{
		TargetID: target,
		Amount:   amount,
		Reason:   reason,
		ActorID:  actorID,
	})
	if err != nil {
		return nil, err
	}

	newAdjustmentRecord := func() *domain.TransactionRecord {
		actor := req.ActorID
		if req.Amount.IsPositive() {
			return e.newRecord(domain.TransactionTypeAdminCredit, nil, &req.TargetID, req.Amount, req.Reason, &actor)
		}
		return e.newRecord(domain.TransactionTypeAdminDebit, &req.TargetID, nil, req.Amount.Abs(), req.Reason, &actor)
	}

	var grant *domain.TransactionRecord
	record, err := e.withRetry(ctx, "adjust_balance", func(ctx context.Context, tx domain.LedgerTx) (*domain.TransactionRecord, error) {
		var err error
		if grant, err = e.provision(ctx, tx, req.TargetID); err != nil {
			return nil, err
		}
		if _, err := tx.LockAccountForUpdate(ctx, req.TargetID); err != nil {
			return nil, err
		}

		if req.Amount.IsNegative() {
			balance, err := tx.ReadBalance(ctx, req.TargetID)
			if err != nil {
				return nil, err
			}
			if balance.LessThan(req.Amount.Abs()) {
				return nil, &domain.InsufficientFundsError{AccountID: req.TargetID, Balance: balance, Requested: req.Amount.Abs()}
			}
		}

		if err := tx.ApplyDelta(ctx, req.TargetID, req.Amount); err != nil {
			return nil, err
		}

		record := newAdjustmentRecord()
		if err := tx.InsertTransactionRecord(ctx, record); err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		if domain.IsTransient(err) {
			e.recordFailure(ctx, newAdjustmentRecord())
		}
		return nil, err
	}

	e.logger.Info("balance adjusted",
		zap.String("transaction_id", record.ID.String()),
		zap.String("account_id", req.TargetID.String()),
		zap.String("actor_id", req.ActorID),
		zap.String("type", string(record.Type)),
		zap.String("amount", record.Amount.StringFixed(2)),
	)

	records := []*domain.TransactionRecord{record}
	if grant != nil {
		records = []*domain.TransactionRecord{grant, record}
	}
	e.afterCommit(ctx, records, req.TargetID)
	return record, nil
}

// EnsureAccount creates the account on first reference and credits the initial grant
// in the same transaction. It returns the initial_grant record when this call created the account.
func (e *Engine) EnsureAccount(ctx context.Context, id domain.AccountID) (*domain.TransactionRecord, error) {
	if _, err := e.Store.GetAccount(ctx, id); err == nil {
		return nil, nil
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	record, err := e.withRetry(ctx, "create_account", func(ctx context.Context, tx domain.LedgerTx) (*domain.TransactionRecord, error) {
		return e.provision(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}

	if record != nil {
		e.logger.Info("account created",
			zap.String("account_id", id.String()),
			zap.String("initial_grant", record.Amount.StringFixed(2)),
		)
		e.afterCommit(ctx, []*domain.TransactionRecord{record}, id)
	}
	return record, nil
}

// provision creates the account inside tx and credits the initial grant.
// It returns the initial_grant record, or nil when the account already existed.
func (e *Engine) provision(ctx context.Context, tx domain.LedgerTx, id domain.AccountID) (*domain.TransactionRecord, error) {
	created, err := tx.CreateAccount(ctx, id, e.now())
	if err != nil {
		return nil, err
	}
	if !created || !e.cfg.InitialGrant.IsPositive() {
		return nil, nil
	}

	if _, err := tx.LockAccountForUpdate(ctx, id); err != nil {
		return nil, err
	}
	if err := tx.ApplyDelta(ctx, id, e.cfg.InitialGrant); err != nil {
		return nil, err
	}

	record := e.newRecord(domain.TransactionTypeInitialGrant, nil, &id, e.cfg.InitialGrant, "initial grant", nil)
	if err := tx.InsertTransactionRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// attemptFunc runs inside an open transaction. Returning an error rolls it back.
type attemptFunc func(ctx context.Context, tx domain.LedgerTx) (*domain.TransactionRecord, error)

// withRetry runs fn in a fresh transaction per attempt. Only transient and connectivity errors
// are replayed. Once attempts are exhausted contention surfaces as TransactionAbortedError and
// connectivity as StoreUnavailableError.
func (e *Engine) withRetry(ctx context.Context, op string, fn attemptFunc) (*domain.TransactionRecord, error) {
	policy := e.cfg.Retry
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.BaseDelay),
		backoff.WithMaxInterval(policy.MaxDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.5),
		backoff.WithMaxElapsedTime(0),
	)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		record, err := e.runAttempt(ctx, fn)
		if err == nil {
			return record, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		delay := b.NextBackOff()
		e.logger.Debug("retrying ledger transaction",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	e.logger.Error("ledger transaction aborted",
		zap.String("op", op),
		zap.Int("attempts", policy.MaxAttempts),
		zap.Error(lastErr),
	)

	// An unreachable store is a hard failure, not contention.
	if errors.Is(lastErr, domain.ErrStoreUnavailable) {
		return nil, lastErr
	}
	return nil, &domain.TransactionAbortedError{Attempts: policy.MaxAttempts, Cause: lastErr}
}

func retryable(err error) bool {
	if errors.Is(err, errCommitUnknown) {
		return false
	}
	return domain.IsTransient(err) || errors.Is(err, domain.ErrStoreUnavailable)
}

func (e *Engine) runAttempt(ctx context.Context, fn attemptFunc) (*domain.TransactionRecord, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	record, err := fn(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		// Replaying would apply the operation twice if the server did commit.
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, fmt.Errorf("%w: %w", errCommitUnknown, err)
		}
		return nil, err
	}
	return record, nil
}

// recordFailure stores a failed record for admin review after retries ran out.
// Best effort: the caller already has its TransactionAbortedError.
func (e *Engine) recordFailure(ctx context.Context, record *domain.TransactionRecord) {
	record.Status = domain.TransactionStatusFailed

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	_, err := e.runAttempt(ctx, func(ctx context.Context, tx domain.LedgerTx) (*domain.TransactionRecord, error) {
		return record, tx.InsertTransactionRecord(ctx, record)
	})
	if err != nil {
		e.logger.Warn("failed to record aborted transaction",
			zap.String("transaction_id", record.ID.String()),
			zap.Error(err),
		)
	}
}

// afterCommit runs the side effects of committed records. Failures are logged, never returned:
// the ledger is authoritative and the operation already happened.
func (e *Engine) afterCommit(ctx context.Context, records []*domain.TransactionRecord, accounts ...domain.AccountID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if e.Cache != nil {
		for _, id := range accounts {
			if err := e.Cache.Invalidate(ctx, id); err != nil {
				e.logger.Warn("failed to invalidate balance cache",
					zap.String("account_id", id.String()),
					zap.Error(&domain.CacheDegradedError{Op: "invalidate", Cause: err}),
				)
			}
		}
	}

	if e.Publisher == nil {
		return
	}
	for _, record := range records {
		if err := e.Publisher.Publish(ctx, domain.NewTransactionRecordedEvent(record)); err != nil {
			e.logger.Warn("failed to publish transaction record",
				zap.String("transaction_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) newRecord(txType domain.TransactionType, source, destination *domain.AccountID, amount decimal.Decimal, reason string, actor *string) *domain.TransactionRecord {
	var guild string
	switch {
	case source != nil:
		guild = source.Guild()
	case destination != nil:
		guild = destination.Guild()
	}

	return &domain.TransactionRecord{
		ID:            uuid.New(),
		Type:          txType,
		SourceID:      source,
		DestinationID: destination,
		Amount:        amount,
		Reason:        reason,
		ActorID:       actor,
		GuildID:       guild,
		Status:        domain.TransactionStatusCompleted,
		CreatedAt:     e.now(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
