package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"go.uber.org/zap"
)

// messageWriter is the part of kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits committed transaction records to a Kafka topic.
// Messages are keyed by guild so each guild's records stay ordered within a partition.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates an asynchronous publisher. Delivery failures are logged by the writer's
// completion callback; the ledger stays authoritative either way.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			Async:                  true,
			AllowAutoTopicCreation: true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("failed to deliver transaction events",
						zap.String("topic", topic),
						zap.Int("messages", len(messages)),
						zap.Error(err),
					)
				}
			},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, event domain.TransactionRecordedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode transaction event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.GuildID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("transaction.recorded")},
			{Key: "transaction_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish transaction event: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ domain.EventPublisher = (*Publisher)(nil)
