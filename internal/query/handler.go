package query

import (
	"context"

	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
)

const (
	StatusUp       = "UP"
	StatusDegraded = "DEGRADED"
)

type Handler struct {
	db       store.Querier
	orders   store.OrderRepository
	outbox   store.OutboxRepository
	producer string
}

// NewHandler reads orders and the outbox backlog of rows written by producer.
func NewHandler(db store.Querier, orders store.OrderRepository, outbox store.OutboxRepository, producer string) *Handler {
	return &Handler{db: db, orders: orders, outbox: outbox, producer: producer}
}

// Orders
func (h *Handler) GetOrder(ctx context.Context, id string) (*OrderReadModel, error) {
	o, err := h.orders.Get(ctx, h.db, id)
	if err != nil {
		return nil, err
	}
	return &OrderReadModel{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      o.Items,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	}, nil
}

// Health reports the outbox backlog. A backlog that cannot be read marks the
// service degraded.
func (h *Handler) Health(ctx context.Context) (*HealthReadModel, error) {
	pending, err := h.outbox.CountUnpublished(ctx, h.db, h.producer)
	if err != nil {
		return &HealthReadModel{Status: StatusDegraded}, err
	}
	return &HealthReadModel{Status: StatusUp, OutboxPending: pending}, nil
}
