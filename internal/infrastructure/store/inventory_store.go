package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresInventoryStore holds inventory_items and inventory_reservations.
type PostgresInventoryStore struct{}

func NewPostgresInventoryStore() *PostgresInventoryStore {
	return &PostgresInventoryStore{}
}

// LockBySKU reads an item under an exclusive row lock held until the
// surrounding transaction ends. q must be a transaction.
func (s *PostgresInventoryStore) LockBySKU(ctx context.Context, q Querier, sku string) (*InventoryItem, error) {
	return s.selectItem(ctx, q,
		`SELECT sku, available_qty FROM inventory_items WHERE sku = $1 FOR UPDATE`, sku)
}

func (s *PostgresInventoryStore) Get(ctx context.Context, q Querier, sku string) (*InventoryItem, error) {
	return s.selectItem(ctx, q,
		`SELECT sku, available_qty FROM inventory_items WHERE sku = $1`, sku)
}

func (s *PostgresInventoryStore) selectItem(ctx context.Context, q Querier, query, sku string) (*InventoryItem, error) {
	var item InventoryItem
	err := q.QueryRowContext(ctx, query, sku).Scan(&item.SKU, &item.AvailableQty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory item %s: %w", sku, err)
	}
	return &item, nil
}

// Decrement lowers available_qty by qty, refusing to go below zero.
func (s *PostgresInventoryStore) Decrement(ctx context.Context, q Querier, sku string, qty int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE inventory_items
		 SET available_qty = available_qty - $2
		 WHERE sku = $1 AND available_qty >= $2`,
		sku, qty,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement %s: %w", sku, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read decrement result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientStock, sku)
	}
	return nil
}

func (s *PostgresInventoryStore) InsertReservation(ctx context.Context, q Querier, r Reservation) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO inventory_reservations (reservation_id, order_id, sku, qty, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.OrderID, r.SKU, r.Qty, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation for %s/%s: %w", r.OrderID, r.SKU, err)
	}
	return nil
}

func (s *PostgresInventoryStore) ListReservations(ctx context.Context, q Querier, orderID string) ([]Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT reservation_id, order_id, sku, qty, created_at
		 FROM inventory_reservations
		 WHERE order_id = $1
		 ORDER BY sku ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.OrderID, &r.SKU, &r.Qty, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Seed inserts items that do not exist yet. Existing stock levels are kept.
func (s *PostgresInventoryStore) Seed(ctx context.Context, q Querier, items []InventoryItem) error {
	for _, item := range items {
		_, err := q.ExecContext(ctx,
			`INSERT INTO inventory_items (sku, available_qty)
			 VALUES ($1, $2)
			 ON CONFLICT (sku) DO NOTHING`,
			item.SKU, item.AvailableQty,
		)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", item.SKU, err)
		}
	}
	return nil
}
