package store

import (
	"context"
	"database/sql"
	"time"
)

// Querier is the subset of *sql.DB and *sql.Tx the repositories need.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor runs fn inside one local transaction. fn's error rolls it back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

// OrderRepository persists producer-side orders.
type OrderRepository interface {
	Insert(ctx context.Context, q Querier, o Order) error
	Get(ctx context.Context, q Querier, id string) (*Order, error)
}

// OutboxRepository is the outbox table. Rows go from unpublished to published and never back.
type OutboxRepository interface {
	Insert(ctx context.Context, q Querier, rec OutboxRecord) error
	SelectUnpublished(ctx context.Context, q Querier, producer string, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, q Querier, id string, sentAt time.Time) error
	CountUnpublished(ctx context.Context, q Querier, producer string) (int, error)
}

// LedgerRepository is the idempotency ledger of processed event ids.
type LedgerRepository interface {
	// MarkProcessed reports whether eventID was recorded for the first time.
	MarkProcessed(ctx context.Context, q Querier, eventID string, at time.Time) (bool, error)
}

// InventoryRepository holds stock levels and reservation facts.
type InventoryRepository interface {
	LockBySKU(ctx context.Context, q Querier, sku string) (*InventoryItem, error)
	Decrement(ctx context.Context, q Querier, sku string, qty int) error
	InsertReservation(ctx context.Context, q Querier, r Reservation) error
	Get(ctx context.Context, q Querier, sku string) (*InventoryItem, error)
	ListReservations(ctx context.Context, q Querier, orderID string) ([]Reservation, error)
	Seed(ctx context.Context, q Querier, items []InventoryItem) error
}
