package inventory

import (
	"context"

	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
)

// Seed inserts the given stock levels. Existing skus keep their current
// quantity, so restarting a service never resets stock.
func Seed(ctx context.Context, tx store.Transactor, items store.InventoryRepository, seed []store.InventoryItem) error {
	if len(seed) == 0 {
		return nil
	}
	return tx.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		return items.Seed(ctx, q, seed)
	})
}
