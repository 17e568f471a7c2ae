package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
	DefaultAuditLimit   = 100
	MaxAuditLimit       = 1000
)

// HistoryService is the read side of the audit trail
type HistoryService struct {
	Reader domain.AuditReader
}

// NewHistoryService creates a new HistoryService instance
func NewHistoryService(reader domain.AuditReader) *HistoryService {
	return &HistoryService{Reader: reader}
}

// QueryHistory returns the records affecting an account, most recent first
func (s *HistoryService) QueryHistory(ctx context.Context, id domain.AccountID, limit, offset int) ([]*domain.TransactionRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, domain.NewInvalidInputError("account", err.Error())
	}
	if offset < 0 {
		return nil, domain.NewInvalidInputError("offset", "offset cannot be negative")
	}

	return s.Reader.List(ctx, domain.HistoryFilter{
		AccountID: &id,
		Limit:     clampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit),
		Offset:    offset,
	})
}

// QueryAll returns the most recent records of a guild for administrative review.
// An empty scope covers every guild.
func (s *HistoryService) QueryAll(ctx context.Context, guildScope string, limit int) ([]*domain.TransactionRecord, error) {
	return s.Reader.List(ctx, domain.HistoryFilter{
		GuildID: guildScope,
		Limit:   clampLimit(limit, DefaultAuditLimit, MaxAuditLimit),
	})
}

// QueryByActor returns the admin adjustments performed by one actor
func (s *HistoryService) QueryByActor(ctx context.Context, actorID string, limit int) ([]*domain.TransactionRecord, error) {
	if actorID == "" {
		return nil, domain.NewInvalidInputError("actor", "actor id is required")
	}

	return s.Reader.List(ctx, domain.HistoryFilter{
		ActorID: actorID,
		Limit:   clampLimit(limit, DefaultAuditLimit, MaxAuditLimit),
	})
}

// QueryRange returns records created within [from, to], optionally restricted to one account
func (s *HistoryService) QueryRange(ctx context.Context, id *domain.AccountID, from, to time.Time, limit int) ([]*domain.TransactionRecord, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, domain.NewInvalidInputError("range", "end of range is before its start")
	}
	if id != nil {
		if err := id.Validate(); err != nil {
			return nil, domain.NewInvalidInputError("account", err.Error())
		}
	}

	return s.Reader.List(ctx, domain.HistoryFilter{
		AccountID: id,
		From:      from,
		To:        to,
		Limit:     clampLimit(limit, DefaultAuditLimit, MaxAuditLimit),
	})
}

// GetTransaction looks up one record by its id
func (s *HistoryService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.TransactionRecord, error) {
	return s.Reader.GetByID(ctx, id)
}

// Stats summarises the completed activity of an account
func (s *HistoryService) Stats(ctx context.Context, id domain.AccountID) (*domain.TransactionStats, error) {
	if err := id.Validate(); err != nil {
		return nil, domain.NewInvalidInputError("account", err.Error())
	}
	return s.Reader.Stats(ctx, id)
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
