package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStore is the authoritative storage for accounts and transaction records
type LedgerStore interface {
	// Begin starts a transaction. All mutations of one logical operation happen inside it.
	Begin(ctx context.Context) (LedgerTx, error)
}

// LedgerTx is one atomic read-modify-write section.
// Mutations are only allowed on accounts locked through LockAccountForUpdate in the same transaction.
type LedgerTx interface {
	// CreateAccount inserts a zero-balance account if it does not exist yet.
	// It reports whether this transaction created the row.
	CreateAccount(ctx context.Context, id AccountID, createdAt time.Time) (bool, error)

	// LockAccountForUpdate takes the row lock, blocking until it is free or the lock timeout expires.
	// Returns ErrAccountNotFound if the account does not exist.
	LockAccountForUpdate(ctx context.Context, id AccountID) (*Account, error)

	// ReadBalance returns the balance of a locked account
	ReadBalance(ctx context.Context, id AccountID) (decimal.Decimal, error)

	// ApplyDelta adds a signed amount to a locked account
	ApplyDelta(ctx context.Context, id AccountID, delta decimal.Decimal) error

	// InsertTransactionRecord appends an audit record
	InsertTransactionRecord(ctx context.Context, record *TransactionRecord) error

	Commit() error
	Rollback() error
}

// BalanceReader reads committed balances without locking
type BalanceReader interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
}

// HistoryFilter narrows audit queries. Zero values mean "no constraint".
type HistoryFilter struct {
	AccountID *AccountID
	GuildID   string
	ActorID   string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// AuditReader is the read side of the audit trail. Reads never lock and never block writers.
type AuditReader interface {
	// List returns records matching the filter, most recent first
	List(ctx context.Context, filter HistoryFilter) ([]*TransactionRecord, error)

	// GetByID retrieves one record. Returns ErrTransactionNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*TransactionRecord, error)

	// Stats aggregates completed records for an account
	Stats(ctx context.Context, id AccountID) (*TransactionStats, error)
}
