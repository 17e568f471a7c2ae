package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

const accountIDSeparator = ":"

// AccountID identifies an account by its community and member, encoded as "<guild_id>:<user_id>".
// The ID is opaque to the ledger apart from the guild prefix used for scoped audit queries.
type AccountID string

// NewAccountID builds the composite account identifier for a member of a guild
func NewAccountID(guildID, userID string) AccountID {
	return AccountID(guildID + accountIDSeparator + userID)
}

// Guild returns the guild part of the identifier, or an empty string for IDs without a scope
func (id AccountID) Guild() string {
	guild, _, found := strings.Cut(string(id), accountIDSeparator)
	if !found {
		return ""
	}
	return guild
}

func (id AccountID) String() string {
	return string(id)
}

// Validate ensures the identifier can be stored and ordered
func (id AccountID) Validate() error {
	if id == "" {
		return errors.New("account id cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("account id cannot exceed 128 bytes")
	}
	for _, r := range string(id) {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.New("account id cannot contain whitespace or control characters")
		}
	}
	return nil
}

// LockOrder returns both identifiers in the order their rows must be locked.
// Every caller locking two accounts goes through here so concurrent opposite transfers never wait on each other in a cycle.
func LockOrder(a, b AccountID) (AccountID, AccountID) {
	if b < a {
		return b, a
	}
	return a, b
}

// Account represents a ledger account in the domain layer
type Account struct {
	ID        AccountID
	Balance   decimal.Decimal // never negative
	CreatedAt time.Time
}
