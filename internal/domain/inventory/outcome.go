package inventory

import (
	"context"
	"time"

	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// OutcomePublisher delivers the reservation outcome for an order. It is
// called inside the reservation transaction.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, q store.Querier, orderID string, env event.Envelope) error
}

// OutboxOutcomes queues outcomes in the inventory-side outbox, so they are
// committed or discarded together with the reservation.
type OutboxOutcomes struct {
	outbox store.OutboxRepository
	topic  string
	now    func() time.Time
}

func NewOutboxOutcomes(outbox store.OutboxRepository, topic string) *OutboxOutcomes {
	return &OutboxOutcomes{outbox: outbox, topic: topic, now: time.Now}
}

func (o *OutboxOutcomes) PublishOutcome(ctx context.Context, q store.Querier, orderID string, env event.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return o.outbox.Insert(ctx, q, store.OutboxRecord{
		ID:          uuid.New().String(),
		Producer:    env.Producer,
		AggregateID: orderID,
		EventType:   env.EventType,
		Topic:       o.topic,
		Payload:     data,
		CreatedAt:   o.now().UTC(),
	})
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// DirectOutcomes sends outcomes straight to Kafka while the transaction is
// open. A send failure rolls the reservation back; a commit failure after a
// successful send can leave an outcome on the bus for a reservation that
// will be retried.
type DirectOutcomes struct {
	producer Producer
	topic    string
}

func NewDirectOutcomes(producer Producer, topic string) *DirectOutcomes {
	return &DirectOutcomes{producer: producer, topic: topic}
}

func (d *DirectOutcomes) PublishOutcome(ctx context.Context, _ store.Querier, orderID string, env event.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return d.producer.Publish(ctx, d.topic, orderID, data,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
	)
}
