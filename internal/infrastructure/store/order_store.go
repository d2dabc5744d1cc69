package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresOrderStore stores orders in PostgreSQL
type PostgresOrderStore struct{}

func NewPostgresOrderStore() *PostgresOrderStore {
	return &PostgresOrderStore{}
}

func (s *PostgresOrderStore) Insert(ctx context.Context, q Querier, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, items, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.CustomerID, items, o.Status, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, q Querier, id string) (*Order, error) {
	var (
		o     Order
		items []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, customer_id, items, status, created_at FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.CustomerID, &items, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}
	return &o, nil
}
