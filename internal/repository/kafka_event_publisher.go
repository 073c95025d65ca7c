package repository

import (
	"context"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/domain/repository"
	pkgkafka "PaperTrade/pkg/kafka"
)

// MessageProducer is the subset of the Kafka producer the publisher needs.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

var _ MessageProducer = (*pkgkafka.Producer)(nil)

// KafkaEventPublisher relays engine events to a Kafka topic, keyed by symbol so one symbol's events stay ordered.
type KafkaEventPublisher struct {
	producer MessageProducer
	topic    string
}

var _ repository.EventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher creates a publisher writing to topic.
func NewKafkaEventPublisher(producer MessageProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

type eventMessage struct {
	ID        string           `json:"id"`
	Type      models.EventType `json:"type"`
	Symbol    string           `json:"symbol,omitempty"`
	Timestamp int64            `json:"ts"`
	Payload   any              `json:"payload"`
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, e models.Event) error {
	key := e.Symbol
	if key == "" {
		key = string(e.Type)
	}
	return p.producer.Publish(ctx, p.topic, []byte(key), eventMessage{
		ID:        e.ID,
		Type:      e.Type,
		Symbol:    e.Symbol,
		Timestamp: e.Timestamp.UnixMilli(),
		Payload:   e.Payload,
	})
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopEventPublisher discards events when no broker is configured.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, models.Event) error { return nil }
func (NopEventPublisher) Close() error                                { return nil }
