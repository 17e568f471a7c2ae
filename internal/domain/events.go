package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecordedEvent is published after a record has been committed
type TransactionRecordedEvent struct {
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	SourceID      string          `json:"source_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	GuildID       string          `json:"guild_id,omitempty"`
	Status        string          `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewTransactionRecordedEvent flattens a record for publication
func NewTransactionRecordedEvent(r *TransactionRecord) TransactionRecordedEvent {
	event := TransactionRecordedEvent{
		TransactionID: r.ID.String(),
		Type:          string(r.Type),
		Amount:        r.Amount,
		Reason:        r.Reason,
		GuildID:       r.GuildID,
		Status:        string(r.Status),
		OccurredAt:    r.CreatedAt,
	}
	if r.SourceID != nil {
		event.SourceID = r.SourceID.String()
	}
	if r.DestinationID != nil {
		event.DestinationID = r.DestinationID.String()
	}
	if r.ActorID != nil {
		event.ActorID = *r.ActorID
	}
	return event
}

// EventPublisher delivers committed records to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event TransactionRecordedEvent) error
}
