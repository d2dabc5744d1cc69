package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
)

var ErrUniqueViolation = errors.New("duplicate key value violates unique constraint")

// MemoryDB is an in-memory stand-in for the relational store. Transactions
// are serialized and a failed transaction restores the state it started from.
type MemoryDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders       map[string]store.Order
	outbox       []store.OutboxRecord
	processed    map[string]time.Time
	items        map[string]int
	reservations []store.Reservation

	// BeginErr makes WithinTx fail before running fn.
	BeginErr  error
	TxCount   int
	Rollbacks int
}

type memoryState struct {
	orders       map[string]store.Order
	outbox       []store.OutboxRecord
	processed    map[string]time.Time
	items        map[string]int
	reservations []store.Reservation
}

// NewMemoryDB creates an empty MemoryDB
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		orders:    make(map[string]store.Order),
		processed: make(map[string]time.Time),
		items:     make(map[string]int),
	}
}

// WithinTx runs fn with a nil Querier; the memory repositories ignore it.
func (db *MemoryDB) WithinTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) (err error) {
	if db.BeginErr != nil {
		return db.BeginErr
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	snap := db.snapshot()
	db.mu.Lock()
	db.TxCount++
	db.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			db.restore(snap)
			panic(r)
		}
		if err != nil {
			db.restore(snap)
		}
	}()

	return fn(ctx, nil)
}

func (db *MemoryDB) snapshot() memoryState {
	db.mu.Lock()
	defer db.mu.Unlock()

	s := memoryState{
		orders:       make(map[string]store.Order, len(db.orders)),
		outbox:       append([]store.OutboxRecord(nil), db.outbox...),
		processed:    make(map[string]time.Time, len(db.processed)),
		items:        make(map[string]int, len(db.items)),
		reservations: append([]store.Reservation(nil), db.reservations...),
	}
	for k, v := range db.orders {
		s.orders[k] = v
	}
	for k, v := range db.processed {
		s.processed[k] = v
	}
	for k, v := range db.items {
		s.items[k] = v
	}
	return s
}

func (db *MemoryDB) restore(s memoryState) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orders = s.orders
	db.outbox = s.outbox
	db.processed = s.processed
	db.items = s.items
	db.reservations = s.reservations
	db.Rollbacks++
}

// SetStock sets the available quantity of sku directly for testing
func (db *MemoryDB) SetStock(sku string, qty int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.items[sku] = qty
}

// Stock returns the available quantity of sku and whether it exists
func (db *MemoryDB) Stock(sku string) (int, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	qty, ok := db.items[sku]
	return qty, ok
}

func (db *MemoryDB) Orders() []store.Order {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]store.Order, 0, len(db.orders))
	for _, o := range db.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (db *MemoryDB) OutboxRecords() []store.OutboxRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]store.OutboxRecord(nil), db.outbox...)
}

func (db *MemoryDB) ProcessedEventIDs() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids := make([]string, 0, len(db.processed))
	for id := range db.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (db *MemoryDB) Reservations() []store.Reservation {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]store.Reservation(nil), db.reservations...)
}

// AddOutboxRecord inserts a record directly for testing
func (db *MemoryDB) AddOutboxRecord(rec store.OutboxRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.outbox = append(db.outbox, rec)
}
