package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

const defaultLockTimeout = 2 * time.Second

var errLockTimeout = errors.New("lock wait timeout exceeded")

// accountRow is one account. The buffered channel of size one is its row lock:
// holding the token means a transaction owns the row until commit or rollback.
type accountRow struct {
	lock      chan struct{}
	balance   decimal.Decimal
	createdAt time.Time
	committed bool // false while the creating transaction is open
	removed   bool // creating transaction rolled back
}

// Store is an in-process ledger store with row-level locking.
// Uncommitted changes are private to their transaction; readers only see committed state.
type Store struct {
	mu          sync.Mutex
	accounts    map[domain.AccountID]*accountRow
	records     []*domain.TransactionRecord
	lockTimeout time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithLockTimeout bounds how long LockAccountForUpdate waits for a row
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// NewStore creates a new in-memory ledger store
func NewStore(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[domain.AccountID]*accountRow),
		records:     make([]*domain.TransactionRecord, 0),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts a new transaction
func (s *Store) Begin(ctx context.Context) (domain.LedgerTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ledgerTx{
		store:   s,
		locked:  make(map[domain.AccountID]*accountRow),
		created: make(map[domain.AccountID]bool),
		deltas:  make(map[domain.AccountID]decimal.Decimal),
	}, nil
}

// GetAccount returns the committed state of an account
func (s *Store) GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.accounts[id]
	if !ok || !row.committed {
		return nil, domain.ErrAccountNotFound
	}
	return &domain.Account{ID: id, Balance: row.balance, CreatedAt: row.createdAt}, nil
}

// List returns committed records matching the filter, most recent first
func (s *Store) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.TransactionRecord, error) {
	s.mu.Lock()
	matched := make([]*domain.TransactionRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if matches(r, filter) {
			matched = append(matched, copyRecord(r))
		}
	}
	s.mu.Unlock()

	// Records are appended in commit order; a stable sort keeps that order for equal timestamps.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []*domain.TransactionRecord{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// GetByID retrieves a committed record
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == id {
			return copyRecord(r), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

// Stats aggregates the completed records of an account
func (s *Store) Stats(ctx context.Context, id domain.AccountID) (*domain.TransactionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.TransactionStats{AccountID: id}
	for _, r := range s.records {
		stats.Add(r)
	}
	return stats, nil
}

func matches(r *domain.TransactionRecord, f domain.HistoryFilter) bool {
	if f.AccountID != nil && !r.Affects(*f.AccountID) {
		return false
	}
	if f.GuildID != "" && r.GuildID != f.GuildID {
		return false
	}
	if f.ActorID != "" && (r.ActorID == nil || *r.ActorID != f.ActorID) {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func copyRecord(r *domain.TransactionRecord) *domain.TransactionRecord {
	c := *r
	return &c
}

// ledgerTx holds the private state of one transaction
type ledgerTx struct {
	store   *Store
	locked  map[domain.AccountID]*accountRow
	created map[domain.AccountID]bool
	deltas  map[domain.AccountID]decimal.Decimal
	records []*domain.TransactionRecord
	done    bool
}

func (tx *ledgerTx) CreateAccount(ctx context.Context, id domain.AccountID, createdAt time.Time) (bool, error) {
	if tx.done {
		return false, domain.ErrTxDone
	}
	if _, ok := tx.locked[id]; ok {
		return false, nil
	}

	for {
		tx.store.mu.Lock()
		row, ok := tx.store.accounts[id]
		if !ok || row.removed {
			// The new row starts locked by its creator so nobody can use it before commit.
			row = &accountRow{
				lock:      make(chan struct{}, 1),
				balance:   decimal.Zero,
				createdAt: createdAt,
			}
			row.lock <- struct{}{}
			tx.store.accounts[id] = row
			tx.store.mu.Unlock()

			tx.locked[id] = row
			tx.created[id] = true
			return true, nil
		}
		committed := row.committed
		tx.store.mu.Unlock()

		if committed {
			return false, nil
		}

		// Another transaction is creating the row: wait for it to commit or roll back, then look again.
		if err := tx.store.acquire(ctx, id, row); err != nil {
			return false, err
		}
		<-row.lock
	}
}

func (tx *ledgerTx) LockAccountForUpdate(ctx context.Context, id domain.AccountID) (*domain.Account, error) {
	if tx.done {
		return nil, domain.ErrTxDone
	}

	if row, ok := tx.locked[id]; ok {
		return &domain.Account{ID: id, Balance: row.balance.Add(tx.delta(id)), CreatedAt: row.createdAt}, nil
	}

	tx.store.mu.Lock()
	row, ok := tx.store.accounts[id]
	tx.store.mu.Unlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	if err := tx.store.acquire(ctx, id, row); err != nil {
		return nil, err
	}

	tx.store.mu.Lock()
	removed := row.removed
	balance := row.balance
	tx.store.mu.Unlock()

	if removed {
		<-row.lock
		return nil, domain.ErrAccountNotFound
	}

	tx.locked[id] = row
	return &domain.Account{ID: id, Balance: balance, CreatedAt: row.createdAt}, nil
}

// acquire takes the row lock token, giving up after the lock timeout
func (s *Store) acquire(ctx context.Context, id domain.AccountID, row *accountRow) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case row.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.Transient(fmt.Errorf("failed to lock account %s: %w", id, errLockTimeout))
	case <-ctx.Done():
		return fmt.Errorf("failed to lock account %s: %w", id, ctx.Err())
	}
}

func (tx *ledgerTx) ReadBalance(ctx context.Context, id domain.AccountID) (decimal.Decimal, error) {
	if tx.done {
		return decimal.Zero, domain.ErrTxDone
	}

	row, ok := tx.locked[id]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotLocked
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	return row.balance.Add(tx.delta(id)), nil
}

func (tx *ledgerTx) ApplyDelta(ctx context.Context, id domain.AccountID, delta decimal.Decimal) error {
	if tx.done {
		return domain.ErrTxDone
	}

	row, ok := tx.locked[id]
	if !ok {
		return domain.ErrAccountNotLocked
	}

	tx.store.mu.Lock()
	current := row.balance.Add(tx.delta(id))
	tx.store.mu.Unlock()

	next := current.Add(delta)
	if next.IsNegative() {
		return &domain.InsufficientFundsError{AccountID: id, Balance: current, Requested: delta.Neg()}
	}

	tx.deltas[id] = tx.delta(id).Add(delta)
	return nil
}

func (tx *ledgerTx) InsertTransactionRecord(ctx context.Context, record *domain.TransactionRecord) error {
	if tx.done {
		return domain.ErrTxDone
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("failed to insert transaction record: %w", err)
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, r := range tx.store.records {
		if r.ID == record.ID {
			return fmt.Errorf("failed to insert transaction record: duplicate id %s", record.ID)
		}
	}

	tx.records = append(tx.records, copyRecord(record))
	return nil
}

func (tx *ledgerTx) Commit() error {
	if tx.done {
		return domain.ErrTxDone
	}
	tx.done = true

	tx.store.mu.Lock()
	for id, delta := range tx.deltas {
		row := tx.locked[id]
		row.balance = row.balance.Add(delta)
	}
	for id := range tx.created {
		tx.locked[id].committed = true
	}
	tx.store.records = append(tx.store.records, tx.records...)
	tx.store.mu.Unlock()

	tx.release()
	return nil
}

func (tx *ledgerTx) Rollback() error {
	if tx.done {
		return domain.ErrTxDone
	}
	tx.done = true

	tx.store.mu.Lock()
	for id := range tx.created {
		tx.locked[id].removed = true
		delete(tx.store.accounts, id)
	}
	tx.store.mu.Unlock()

	tx.release()
	return nil
}

func (tx *ledgerTx) release() {
	for _, row := range tx.locked {
		<-row.lock
	}
	tx.locked = nil
}

func (tx *ledgerTx) delta(id domain.AccountID) decimal.Decimal {
	if d, ok := tx.deltas[id]; ok {
		return d
	}
	return decimal.Zero
}

var (
	_ domain.LedgerStore   = (*Store)(nil)
	_ domain.BalanceReader = (*Store)(nil)
	_ domain.AuditReader   = (*Store)(nil)
)
