package validation

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

// Amounts carry at most this many fractional digits
const amountPrecision = 2

// Config holds the static limits the guard enforces
type Config struct {
	MinTransfer   decimal.Decimal
	MaxTransfer   decimal.Decimal
	MaxAdjustment decimal.Decimal
	MaxMemoLength int // in runes
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MinTransfer:   decimal.RequireFromString("0.01"),
		MaxTransfer:   decimal.RequireFromString("10000.00"),
		MaxAdjustment: decimal.RequireFromString("1000000.00"),
		MaxMemoLength: 200,
	}
}

// TransferRequest is the input of a peer-to-peer transfer
type TransferRequest struct {
	SourceID      domain.AccountID
	DestinationID domain.AccountID
	Amount        decimal.Decimal
	Memo          string
}

// AdjustmentRequest is the input of an admin balance adjustment.
// A positive amount credits the target, a negative amount debits it.
type AdjustmentRequest struct {
	TargetID domain.AccountID
	Amount   decimal.Decimal
	Reason   string
	ActorID  string
}

// Guard rejects malformed or unsafe requests before any mutation.
// It holds no mutable state and is safe for concurrent use.
type Guard struct {
	cfg Config
}

// NewGuard creates a new Guard instance
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Config returns the limits the guard was built with
func (g *Guard) Config() Config {
	return g.cfg
}

// ValidateTransfer checks a transfer request, first failure wins:
//  1. source != destination
//  2. amount positive, within [MinTransfer, MaxTransfer], at most two decimals
//  3. memo within bounds after control characters are stripped
//  4. account identifiers well formed and in the same guild
//
// On success the returned request carries the sanitized memo.
func (g *Guard) ValidateTransfer(req TransferRequest) (TransferRequest, error) {
	if req.SourceID == req.DestinationID {
		return req, domain.NewSelfTransferError()
	}

	if err := g.checkAmount(req.Amount, g.cfg.MaxTransfer); err != nil {
		return req, err
	}

	memo, err := g.sanitizeText("memo", req.Memo)
	if err != nil {
		return req, err
	}
	req.Memo = memo

	if err := req.SourceID.Validate(); err != nil {
		return req, domain.NewInvalidInputError("source", err.Error())
	}
	if err := req.DestinationID.Validate(); err != nil {
		return req, domain.NewInvalidInputError("destination", err.Error())
	}
	if req.SourceID.Guild() != req.DestinationID.Guild() {
		return req, domain.NewInvalidInputError("destination", "transfers cannot leave the guild")
	}

	return req, nil
}

// ValidateAdjustment checks an admin adjustment. The reason is mandatory.
func (g *Guard) ValidateAdjustment(req AdjustmentRequest) (AdjustmentRequest, error) {
	if req.Amount.IsZero() {
		return req, domain.NewInvalidAmountError("adjustment amount cannot be zero")
	}
	if err := g.checkPrecision(req.Amount); err != nil {
		return req, err
	}
	if req.Amount.Abs().GreaterThan(g.cfg.MaxAdjustment) {
		return req, domain.NewInvalidAmountError("adjustment exceeds the limit of " + g.cfg.MaxAdjustment.StringFixed(amountPrecision))
	}

	reason, err := g.sanitizeText("reason", req.Reason)
	if err != nil {
		return req, err
	}
	if reason == "" {
		return req, domain.NewInvalidInputError("reason", "reason is required")
	}
	req.Reason = reason

	if strings.TrimSpace(req.ActorID) == "" {
		return req, domain.NewInvalidInputError("actor", "actor id is required")
	}
	if err := req.TargetID.Validate(); err != nil {
		return req, domain.NewInvalidInputError("target", err.Error())
	}

	return req, nil
}

func (g *Guard) checkAmount(amount, ceiling decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.NewInvalidAmountError("amount must be positive")
	}
	if err := g.checkPrecision(amount); err != nil {
		return err
	}
	if amount.LessThan(g.cfg.MinTransfer) {
		return domain.NewInvalidAmountError("amount is below the minimum of " + g.cfg.MinTransfer.StringFixed(amountPrecision))
	}
	if amount.GreaterThan(ceiling) {
		return domain.NewInvalidAmountError("amount exceeds the per-transfer limit of " + ceiling.StringFixed(amountPrecision))
	}
	return nil
}

func (g *Guard) checkPrecision(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(amountPrecision)) {
		return domain.NewInvalidAmountError("amount cannot have more than 2 decimal places")
	}
	return nil
}

// sanitizeText strips control characters (line breaks become spaces) and enforces the length bound
func (g *Guard) sanitizeText(field, s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", domain.NewInvalidInputError(field, "must be valid UTF-8")
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r) || r == '\u200b' || r == '\ufeff':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimSpace(cleaned)

	if utf8.RuneCountInString(cleaned) > g.cfg.MaxMemoLength {
		return "", domain.NewInvalidInputError(field, "cannot exceed "+strconv.Itoa(g.cfg.MaxMemoLength)+" characters")
	}
	return cleaned, nil
}
