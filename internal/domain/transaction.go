package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of balance-affecting event
type TransactionType string

const (
	TransactionTypeTransfer     TransactionType = "transfer"
	TransactionTypeAdminCredit  TransactionType = "admin_credit"
	TransactionTypeAdminDebit   TransactionType = "admin_debit"
	TransactionTypeInitialGrant TransactionType = "initial_grant"
)

// TransactionStatus represents the terminal outcome of an operation
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// TransactionRecord is the immutable audit entry for one balance-affecting operation.
// Balances reconcile against the sum of completed records touching an account.
type TransactionRecord struct {
	ID            uuid.UUID
	Type          TransactionType
	SourceID      *AccountID // nil for grants and admin credits
	DestinationID *AccountID // nil for admin debits
	Amount        decimal.Decimal
	Reason        string
	ActorID       *string // set for admin adjustments only
	GuildID       string
	Status        TransactionStatus
	CreatedAt     time.Time
}

// Validate ensures the record shape matches its type
func (r *TransactionRecord) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("transaction id cannot be empty")
	}

	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("transaction amount must be positive")
	}

	if r.Status != TransactionStatusCompleted && r.Status != TransactionStatusFailed {
		return errors.New("transaction status must be completed or failed")
	}

	switch r.Type {
	case TransactionTypeTransfer:
		if r.SourceID == nil || r.DestinationID == nil {
			return errors.New("transfer must have both source and destination")
		}
		if *r.SourceID == *r.DestinationID {
			return errors.New("transfer source and destination must differ")
		}
	case TransactionTypeAdminCredit, TransactionTypeInitialGrant:
		if r.SourceID != nil || r.DestinationID == nil {
			return errors.New(string(r.Type) + " must have a destination and no source")
		}
	case TransactionTypeAdminDebit:
		if r.SourceID == nil || r.DestinationID != nil {
			return errors.New("admin_debit must have a source and no destination")
		}
	default:
		return errors.New("unknown transaction type: " + string(r.Type))
	}

	if (r.Type == TransactionTypeAdminCredit || r.Type == TransactionTypeAdminDebit) && r.ActorID == nil {
		return errors.New("admin adjustment must record the acting admin")
	}

	return nil
}

// Affects reports whether the record names the account on either side
func (r *TransactionRecord) Affects(id AccountID) bool {
	return (r.SourceID != nil && *r.SourceID == id) || (r.DestinationID != nil && *r.DestinationID == id)
}

// DeltaFor returns the signed balance change the record applied to the account.
// Failed records never moved funds and always return zero.
func (r *TransactionRecord) DeltaFor(id AccountID) decimal.Decimal {
	if r.Status != TransactionStatusCompleted {
		return decimal.Zero
	}

	delta := decimal.Zero
	if r.SourceID != nil && *r.SourceID == id {
		delta = delta.Sub(r.Amount)
	}
	if r.DestinationID != nil && *r.DestinationID == id {
		delta = delta.Add(r.Amount)
	}
	return delta
}

// TransactionStats summarises an account's completed activity
type TransactionStats struct {
	AccountID        AccountID
	TotalCount       int
	SentCount        int
	ReceivedCount    int
	TotalSent        decimal.Decimal
	TotalReceived    decimal.Decimal
	NetAmount        decimal.Decimal // received minus sent
	FirstTransaction *time.Time
	LastTransaction  *time.Time
}

// Add folds one record into the statistics
func (s *TransactionStats) Add(r *TransactionRecord) {
	if r.Status != TransactionStatusCompleted || !r.Affects(s.AccountID) {
		return
	}

	s.TotalCount++
	if r.SourceID != nil && *r.SourceID == s.AccountID {
		s.SentCount++
		s.TotalSent = s.TotalSent.Add(r.Amount)
	}
	if r.DestinationID != nil && *r.DestinationID == s.AccountID {
		s.ReceivedCount++
		s.TotalReceived = s.TotalReceived.Add(r.Amount)
	}
	s.NetAmount = s.TotalReceived.Sub(s.TotalSent)

	at := r.CreatedAt
	if s.FirstTransaction == nil || at.Before(*s.FirstTransaction) {
		s.FirstTransaction = &at
	}
	if s.LastTransaction == nil || at.After(*s.LastTransaction) {
		s.LastTransaction = &at
	}
}
