package command

import "github.com/example/ec-stock-reservation/internal/event"

// Order Commands
type PlaceOrder struct {
	CustomerID    string            `json:"customerId"`
	Items         []event.OrderItem `json:"items"`
	CorrelationID string            `json:"-"`
}
