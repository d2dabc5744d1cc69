package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
)

// ============================================
// Orders
// ============================================

type OrderRepository struct {
	db *MemoryDB

	InsertErr error
}

func NewOrderRepository(db *MemoryDB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, q store.Querier, o store.Order) error {
	if r.InsertErr != nil {
		return r.InsertErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, exists := r.db.orders[o.ID]; exists {
		return fmt.Errorf("orders: %w", ErrUniqueViolation)
	}
	r.db.orders[o.ID] = o
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, q store.Querier, id string) (*store.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	return &o, nil
}

// ============================================
// Outbox
// ============================================

type OutboxRepository struct {
	db *MemoryDB

	InsertErr error
	SelectErr error
	MarkErr   error

	mu        sync.Mutex
	MarkCalls []string
}

func NewOutboxRepository(db *MemoryDB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Insert(ctx context.Context, q store.Querier, rec store.OutboxRecord) error {
	if r.InsertErr != nil {
		return r.InsertErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.outbox {
		if existing.ID == rec.ID {
			return fmt.Errorf("outbox: %w", ErrUniqueViolation)
		}
	}
	rec.Published = false
	rec.SentAt = nil
	r.db.outbox = append(r.db.outbox, rec)
	return nil
}

func (r *OutboxRepository) SelectUnpublished(ctx context.Context, q store.Querier, producer string, limit int) ([]store.OutboxRecord, error) {
	if r.SelectErr != nil {
		return nil, r.SelectErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var pending []store.OutboxRecord
	for _, rec := range r.db.outbox {
		if !rec.Published && rec.Producer == producer {
			pending = append(pending, rec)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, q store.Querier, id string, sentAt time.Time) error {
	r.mu.Lock()
	r.MarkCalls = append(r.MarkCalls, id)
	r.mu.Unlock()

	if r.MarkErr != nil {
		return r.MarkErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for i := range r.db.outbox {
		if r.db.outbox[i].ID == id && !r.db.outbox[i].Published {
			at := sentAt
			r.db.outbox[i].Published = true
			r.db.outbox[i].SentAt = &at
		}
	}
	return nil
}

func (r *OutboxRepository) CountUnpublished(ctx context.Context, q store.Querier, producer string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	n := 0
	for _, rec := range r.db.outbox {
		if !rec.Published && rec.Producer == producer {
			n++
		}
	}
	return n, nil
}

// ============================================
// Ledger
// ============================================

type LedgerRepository struct {
	db *MemoryDB

	Err error
}

func NewLedgerRepository(db *MemoryDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) MarkProcessed(ctx context.Context, q store.Querier, eventID string, at time.Time) (bool, error) {
	if r.Err != nil {
		return false, r.Err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, seen := r.db.processed[eventID]; seen {
		return false, nil
	}
	r.db.processed[eventID] = at
	return true, nil
}

// ============================================
// Inventory
// ============================================

type InventoryRepository struct {
	db *MemoryDB

	DecrementErr   error
	ReservationErr error

	mu        sync.Mutex
	LockCalls []string
}

func NewInventoryRepository(db *MemoryDB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// LockBySKU records the lock request; MemoryDB already serializes transactions.
func (r *InventoryRepository) LockBySKU(ctx context.Context, q store.Querier, sku string) (*store.InventoryItem, error) {
	r.mu.Lock()
	r.LockCalls = append(r.LockCalls, sku)
	r.mu.Unlock()

	return r.Get(ctx, q, sku)
}

func (r *InventoryRepository) Get(ctx context.Context, q store.Querier, sku string) (*store.InventoryItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	qty, ok := r.db.items[sku]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	return &store.InventoryItem{SKU: sku, AvailableQty: qty}, nil
}

func (r *InventoryRepository) Decrement(ctx context.Context, q store.Querier, sku string, qty int) error {
	if r.DecrementErr != nil {
		return r.DecrementErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	available, ok := r.db.items[sku]
	if !ok || available < qty {
		return fmt.Errorf("%w: %s", store.ErrInsufficientStock, sku)
	}
	r.db.items[sku] = available - qty
	return nil
}

func (r *InventoryRepository) InsertReservation(ctx context.Context, q store.Querier, res store.Reservation) error {
	if r.ReservationErr != nil {
		return r.ReservationErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.reservations {
		if existing.ID == res.ID || (existing.OrderID == res.OrderID && existing.SKU == res.SKU) {
			return fmt.Errorf("inventory_reservations: %w", ErrUniqueViolation)
		}
	}
	r.db.reservations = append(r.db.reservations, res)
	return nil
}

func (r *InventoryRepository) ListReservations(ctx context.Context, q store.Querier, orderID string) ([]store.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []store.Reservation
	for _, res := range r.db.reservations {
		if res.OrderID == orderID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *InventoryRepository) Seed(ctx context.Context, q store.Querier, items []store.InventoryItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, item := range items {
		if _, exists := r.db.items[item.SKU]; !exists {
			r.db.items[item.SKU] = item.AvailableQty
		}
	}
	return nil
}

// Locked returns the skus passed to LockBySKU, in call order
func (r *InventoryRepository) Locked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.LockCalls...)
}
