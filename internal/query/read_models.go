package query

import (
	"time"

	"github.com/example/ec-stock-reservation/internal/event"
)

type OrderReadModel struct {
	OrderID    string            `json:"orderId"`
	CustomerID string            `json:"customerId"`
	Items      []event.OrderItem `json:"items"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type HealthReadModel struct {
	Status        string `json:"status"`
	OutboxPending int    `json:"outboxPending"`
}
