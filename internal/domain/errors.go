package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for errors.Is checks
var (
	ErrValidation          = errors.New("validation failed")
	ErrSelfTransfer        = errors.New("cannot transfer to the same account")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransactionAborted  = errors.New("transaction aborted after retries")
	ErrStoreUnavailable    = errors.New("ledger store unavailable")
	ErrCacheDegraded       = errors.New("balance cache degraded")
	ErrTransient           = errors.New("transient store failure")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNotLocked    = errors.New("account not locked in this transaction")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTxDone              = errors.New("ledger transaction already committed or rolled back")
)

// ValidationKind tells which rule rejected a request
type ValidationKind string

const (
	ValidationKindSelfTransfer  ValidationKind = "self_transfer"
	ValidationKindInvalidAmount ValidationKind = "invalid_amount"
	ValidationKindInvalidInput  ValidationKind = "invalid_input"
)

// ValidationError is returned when a request is rejected before any mutation.
// It is the caller's fault and is never retried.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation and the sentinel of the rule that failed
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrSelfTransfer:
		return e.Kind == ValidationKindSelfTransfer
	case ErrInvalidAmount:
		return e.Kind == ValidationKindInvalidAmount
	case ErrInvalidInput:
		return e.Kind == ValidationKindInvalidInput
	}
	return false
}

// NewSelfTransferError rejects a transfer whose source equals its destination
func NewSelfTransferError() *ValidationError {
	return &ValidationError{Kind: ValidationKindSelfTransfer, Field: "destination", Reason: ErrSelfTransfer.Error()}
}

// NewInvalidAmountError rejects an amount outside the configured bounds
func NewInvalidAmountError(reason string) *ValidationError {
	return &ValidationError{Kind: ValidationKindInvalidAmount, Field: "amount", Reason: reason}
}

// NewInvalidInputError rejects a malformed field
func NewInvalidInputError(field, reason string) *ValidationError {
	return &ValidationError{Kind: ValidationKindInvalidInput, Field: field, Reason: reason}
}

// InsufficientFundsError is a business-rule rejection: the debited account cannot cover the amount
type InsufficientFundsError struct {
	AccountID AccountID
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %s: balance %s, requested %s", e.AccountID, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// TransactionAbortedError is returned when every attempt hit transient contention
type TransactionAbortedError struct {
	Attempts int
	Cause    error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction aborted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *TransactionAbortedError) Is(target error) bool {
	return target == ErrTransactionAborted
}

func (e *TransactionAbortedError) Unwrap() error {
	return e.Cause
}

// StoreUnavailableError is returned when the ledger store cannot be reached
type StoreUnavailableError struct {
	Op    string
	Cause error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("ledger store unavailable during %s: %v", e.Op, e.Cause)
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Cause
}

// CacheDegradedError describes a failed cache operation. It is only ever logged.
type CacheDegradedError struct {
	Op    string
	Cause error
}

func (e *CacheDegradedError) Error() string {
	return fmt.Sprintf("balance cache degraded during %s: %v", e.Op, e.Cause)
}

func (e *CacheDegradedError) Is(target error) bool {
	return target == ErrCacheDegraded
}

func (e *CacheDegradedError) Unwrap() error {
	return e.Cause
}

// Transient wraps a store error that is safe to retry from the beginning of the transaction
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether the operation may succeed if retried
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
