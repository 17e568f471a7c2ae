package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

// LedgerStore implements domain.LedgerStore and domain.BalanceReader on PostgreSQL.
// Transactions run at READ COMMITTED; correctness comes from SELECT ... FOR UPDATE row locks.
type LedgerStore struct {
	db          *DB
	lockTimeout time.Duration
}

// NewLedgerStore creates a new ledger store. lockTimeout bounds every row-lock wait.
func NewLedgerStore(db *DB, lockTimeout time.Duration) *LedgerStore {
	return &LedgerStore{db: db, lockTimeout: lockTimeout}
}

// Begin starts a database transaction with the configured lock timeout
func (s *LedgerStore) Begin(ctx context.Context) (domain.LedgerTx, error) {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify("begin transaction", err)
	}

	if s.lockTimeout > 0 {
		timeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := dbTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			dbTx.Rollback()
			return nil, classify("set lock timeout", err)
		}
	}

	return &ledgerTx{tx: dbTx, locked: make(map[domain.AccountID]bool)}, nil
}

// GetAccount reads the committed state of an account without locking
func (s *LedgerStore) GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	query := `
		SELECT balance, created_at
		FROM accounts
		WHERE id = $1
	`

	var balanceStr string
	account := domain.Account{ID: id}

	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(&balanceStr, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify("get account", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	account.Balance = balance

	return &account, nil
}

// ledgerTx tracks which rows this transaction holds locks on
type ledgerTx struct {
	tx     *sql.Tx
	locked map[domain.AccountID]bool
}

func (t *ledgerTx) CreateAccount(ctx context.Context, id domain.AccountID, createdAt time.Time) (bool, error) {
	query := `
		INSERT INTO accounts (id, guild_id, balance, created_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := t.tx.ExecContext(ctx, query, string(id), id.Guild(), createdAt)
	if err != nil {
		return false, classify("create account", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	// The inserted row is locked by this transaction until commit.
	t.locked[id] = true
	return true, nil
}

func (t *ledgerTx) LockAccountForUpdate(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	query := `
		SELECT balance, created_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`

	var balanceStr string
	account := domain.Account{ID: id}

	err := t.tx.QueryRowContext(ctx, query, string(id)).Scan(&balanceStr, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify("lock account", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	account.Balance = balance

	t.locked[id] = true
	return &account, nil
}

func (t *ledgerTx) ReadBalance(ctx context.Context, id domain.AccountID) (decimal.Decimal, error) {
	if !t.locked[id] {
		return decimal.Zero, domain.ErrAccountNotLocked
	}

	var balanceStr string
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, string(id)).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, domain.ErrAccountNotFound
		}
		return decimal.Zero, classify("read balance", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}
	return balance, nil
}

func (t *ledgerTx) ApplyDelta(ctx context.Context, id domain.AccountID, delta decimal.Decimal) error {
	if !t.locked[id] {
		return domain.ErrAccountNotLocked
	}

	result, err := t.tx.ExecContext(ctx, `UPDATE accounts SET balance = balance + $2 WHERE id = $1`, string(id), delta.String())
	if err != nil {
		if isCheckViolation(err) {
			return &domain.InsufficientFundsError{AccountID: id, Requested: delta.Neg()}
		}
		return classify("apply delta", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *ledgerTx) InsertTransactionRecord(ctx context.Context, record *domain.TransactionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("failed to insert transaction record: %w", err)
	}

	query := `
		INSERT INTO transactions (id, type, source_id, destination_id, amount, reason, actor_id, guild_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := t.tx.ExecContext(ctx, query,
		record.ID,
		string(record.Type),
		nullableAccount(record.SourceID),
		nullableAccount(record.DestinationID),
		record.Amount.String(),
		record.Reason,
		nullableString(record.ActorID),
		record.GuildID,
		string(record.Status),
		record.CreatedAt,
	)
	if err != nil {
		return classify("insert transaction record", err)
	}
	return nil
}

func (t *ledgerTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return domain.ErrTxDone
		}
		return classify("commit transaction", err)
	}
	return nil
}

func (t *ledgerTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return domain.ErrTxDone
		}
		return classify("rollback transaction", err)
	}
	return nil
}

func nullableAccount(id *domain.AccountID) interface{} {
	if id == nil {
		return nil
	}
	return string(*id)
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

var (
	_ domain.LedgerStore   = (*LedgerStore)(nil)
	_ domain.BalanceReader = (*LedgerStore)(nil)
)
