package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/google/uuid"
)

var (
	ErrEmptyOrder      = errors.New("order must have at least one item")
	ErrInvalidItem     = errors.New("order item must have a sku and a positive quantity")
	ErrMissingCustomer = errors.New("customer id is required")
)

// Placed is the result of a successfully recorded order.
type Placed struct {
	Order         store.Order
	EventID       string
	CorrelationID string
}

// Service records orders together with the event announcing them. It never
// talks to the broker; the outbox publisher relays the event later.
type Service struct {
	tx     store.Transactor
	orders store.OrderRepository
	outbox store.OutboxRepository
	codec  *event.Codec
	topic  string

	now   func() time.Time
	newID func() string
}

func NewService(tx store.Transactor, orders store.OrderRepository, outbox store.OutboxRepository, topic string) *Service {
	return &Service{
		tx:     tx,
		orders: orders,
		outbox: outbox,
		codec:  event.NewCodec(event.ProducerOrderService),
		topic:  topic,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Place validates the request, creates the order in CREATED status and
// queues an OrderPlaced event for it.
func (s *Service) Place(ctx context.Context, customerID string, items []event.OrderItem, correlationID string) (*Placed, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrMissingCustomer
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, item := range items {
		if strings.TrimSpace(item.SKU) == "" || item.Quantity < 1 || item.Quantity > event.MaxQuantity {
			return nil, fmt.Errorf("%w: %q x %d", ErrInvalidItem, item.SKU, item.Quantity)
		}
	}

	o := store.Order{
		ID:         s.newID(),
		CustomerID: customerID,
		Items:      append([]event.OrderItem(nil), items...),
		Status:     store.OrderStatusCreated,
		CreatedAt:  s.now().UTC(),
	}

	env, err := s.RecordOrderAndEvent(ctx, o, event.TypeOrderPlaced, s.topic, event.OrderPlaced{
		OrderID: o.ID,
		Items:   o.Items,
	}, correlationID)
	if err != nil {
		return nil, err
	}

	return &Placed{Order: o, EventID: env.EventID, CorrelationID: env.CorrelationID}, nil
}

// RecordOrderAndEvent inserts the order and one unpublished outbox record in
// a single transaction. Either both rows are committed or neither is.
func (s *Service) RecordOrderAndEvent(ctx context.Context, o store.Order, eventType, topic string, payload any, correlationID string) (event.Envelope, error) {
	env, err := s.codec.Build(eventType, correlationID, payload)
	if err != nil {
		return event.Envelope{}, err
	}
	data, err := env.Marshal()
	if err != nil {
		return event.Envelope{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := s.orders.Insert(ctx, q, o); err != nil {
			return err
		}
		return s.outbox.Insert(ctx, q, store.OutboxRecord{
			ID:          s.newID(),
			Producer:    s.codec.Producer(),
			AggregateID: o.ID,
			EventType:   eventType,
			Topic:       topic,
			Payload:     data,
			CreatedAt:   s.now().UTC(),
		})
	})
	if err != nil {
		return event.Envelope{}, fmt.Errorf("failed to record order %s: %w", o.ID, err)
	}
	return env, nil
}
