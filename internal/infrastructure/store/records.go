package store

import (
	"errors"
	"time"

	"github.com/example/ec-stock-reservation/internal/event"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrItemNotFound      = errors.New("inventory item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const OrderStatusCreated = "CREATED"

// Order is the producer-side business row written alongside its outbox record.
type Order struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customerId"`
	Items      []event.OrderItem `json:"items"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// OutboxRecord is a pending or relayed event. Payload holds the encoded envelope.
// Producer names the service that wrote the row; only that service relays it.
type OutboxRecord struct {
	ID          string     `json:"id"`
	Producer    string     `json:"producer"`
	AggregateID string     `json:"aggregateId"`
	EventType   string     `json:"eventType"`
	Topic       string     `json:"topic"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"createdAt"`
	Published   bool       `json:"published"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
}

type InventoryItem struct {
	SKU          string `json:"sku"`
	AvailableQty int    `json:"availableQty"`
}

type Reservation struct {
	ID        string    `json:"reservationId"`
	OrderID   string    `json:"orderId"`
	SKU       string    `json:"sku"`
	Qty       int       `json:"qty"`
	CreatedAt time.Time `json:"createdAt"`
}
