package store

import (
	"context"
	"fmt"
	"time"
)

// PostgresLedgerStore records processed event ids in processed_events.
type PostgresLedgerStore struct{}

func NewPostgresLedgerStore() *PostgresLedgerStore {
	return &PostgresLedgerStore{}
}

// MarkProcessed inserts eventID under its primary key. Exactly one concurrent
// caller sees a row inserted; the rest hit the conflict and get false.
func (s *PostgresLedgerStore) MarkProcessed(ctx context.Context, q Querier, eventID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, processed_at)
		 VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event %s: %w", eventID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ledger insert result: %w", err)
	}
	return n == 1, nil
}
