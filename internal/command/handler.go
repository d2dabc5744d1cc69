package command

import (
	"context"

	"github.com/example/ec-stock-reservation/internal/domain/order"
	"go.uber.org/zap"
)

type Handler struct {
	l        *zap.Logger
	orderSvc *order.Service
}

func NewHandler(l *zap.Logger, orderSvc *order.Service) *Handler {
	return &Handler{
		l:        l.Named("command"),
		orderSvc: orderSvc,
	}
}

// PlaceOrder records the order and its OrderPlaced event. Reservation
// happens later in the inventory service.
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*order.Placed, error) {
	placed, err := h.orderSvc.Place(ctx, cmd.CustomerID, cmd.Items, cmd.CorrelationID)
	if err != nil {
		return nil, err
	}

	h.l.Info("Order placed",
		zap.String("order_id", placed.Order.ID),
		zap.String("customer_id", placed.Order.CustomerID),
		zap.String("event_id", placed.EventID),
		zap.String("correlation_id", placed.CorrelationID),
	)
	return placed, nil
}
