package store

import (
	"context"
	"fmt"
	"time"
)

// PostgresOutboxStore is the outbox table in PostgreSQL
type PostgresOutboxStore struct{}

func NewPostgresOutboxStore() *PostgresOutboxStore {
	return &PostgresOutboxStore{}
}

// Insert appends an unpublished record. It must run in the caller's business transaction.
func (s *PostgresOutboxStore) Insert(ctx context.Context, q Querier, rec OutboxRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO outbox (id, producer, aggregate_id, event_type, topic, payload, created_at, published)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		rec.ID, rec.Producer, rec.AggregateID, rec.EventType, rec.Topic, rec.Payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox record %s: %w", rec.ID, err)
	}
	return nil
}

// SelectUnpublished returns up to limit pending records written by producer, oldest first
func (s *PostgresOutboxStore) SelectUnpublished(ctx context.Context, q Querier, producer string, limit int) ([]OutboxRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, producer, aggregate_id, event_type, topic, payload, created_at
		 FROM outbox
		 WHERE published = FALSE AND producer = $1
		 ORDER BY created_at ASC, seq ASC
		 LIMIT $2`,
		producer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox batch: %w", err)
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.Producer, &rec.AggregateID, &rec.EventType, &rec.Topic, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox batch: %w", err)
	}
	return records, nil
}

// MarkPublished flips a pending record to published. Already published rows are left alone.
func (s *PostgresOutboxStore) MarkPublished(ctx context.Context, q Querier, id string, sentAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE outbox SET published = TRUE, sent_at = $2 WHERE id = $1 AND published = FALSE`,
		id, sentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record %s published: %w", id, err)
	}
	return nil
}

func (s *PostgresOutboxStore) CountUnpublished(ctx context.Context, q Querier, producer string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published = FALSE AND producer = $1`, producer,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox backlog: %w", err)
	}
	return n, nil
}
