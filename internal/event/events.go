package event

import (
	"encoding/json"
	"math"
)

const (
	TypeOrderPlaced          = "OrderPlaced"
	TypeInventoryReserved    = "InventoryReserved"
	TypeOutOfStock           = "OutOfStock"
	TypeInventoryEventFailed = "InventoryEventFailed"
)

const (
	ProducerOrderService     = "order-service"
	ProducerInventoryService = "inventory-service"
)

const ReasonInsufficientStock = "Insufficient stock"

// MaxQuantity is the largest quantity one order line may carry. Stock and
// reservation quantities are 32-bit columns.
const MaxQuantity = math.MaxInt32

type OrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type OrderPlaced struct {
	OrderID string      `json:"orderId"`
	Items   []OrderItem `json:"items"`
}

type InventoryReserved struct {
	OrderID string `json:"orderId"`
}

type OutOfStock struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// InventoryEventFailed is the dead-letter payload. OriginalEvent holds the
// rejected message as structured JSON when it parses, otherwise as a string.
type InventoryEventFailed struct {
	SourceEventID string          `json:"sourceEventId"`
	Error         string          `json:"error"`
	OriginalEvent json.RawMessage `json:"originalEvent"`
}

// OriginalEvent returns raw as embeddable JSON.
func OriginalEvent(raw []byte) json.RawMessage {
	if len(raw) > 0 && json.Valid(raw) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
