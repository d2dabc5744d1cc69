package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Outcome int

const (
	OutcomeReserved Outcome = iota + 1
	OutcomeOutOfStock
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReserved:
		return "Reserved"
	case OutcomeOutOfStock:
		return "OutOfStock"
	case OutcomeDuplicate:
		return "Duplicate"
	default:
		return "Unknown"
	}
}

// Coordinator reserves stock for OrderPlaced events exactly once per event id.
type Coordinator struct {
	l         *zap.Logger
	tx        store.Transactor
	ledger    store.LedgerRepository
	inventory store.InventoryRepository
	outcomes  OutcomePublisher
	codec     *event.Codec

	now   func() time.Time
	newID func() string
}

func NewCoordinator(
	l *zap.Logger,
	tx store.Transactor,
	ledger store.LedgerRepository,
	inventory store.InventoryRepository,
	outcomes OutcomePublisher,
) *Coordinator {
	return &Coordinator{
		l:         l.Named("reservation"),
		tx:        tx,
		ledger:    ledger,
		inventory: inventory,
		outcomes:  outcomes,
		codec:     event.NewCodec(event.ProducerInventoryService),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Handle runs the whole reservation in one transaction:
//
//  1. record env.EventID in the ledger; a repeat is a Duplicate and does nothing else
//  2. lock every requested sku in sorted order and check availability
//  3. all available: decrement, write reservations, emit InventoryReserved
//     otherwise: emit OutOfStock and leave stock untouched
//
// The ledger row commits with the rest, so a failure anywhere leaves the
// event unrecorded and the next delivery processes it again.
func (c *Coordinator) Handle(ctx context.Context, env event.Envelope, placed event.OrderPlaced) (Outcome, error) {
	log := c.l.With(
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("order_id", placed.OrderID),
	)

	if env.EventType != event.TypeOrderPlaced {
		log.Warn("Ignoring unexpected event type", zap.String("event_type", env.EventType))
		return OutcomeDuplicate, nil
	}

	ctx, span := otel.Tracer("inventory").Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", placed.OrderID),
		attribute.String("event.id", env.EventID),
	)

	lines := mergeLines(placed.Items)

	var outcome Outcome
	err := c.tx.WithinTx(ctx, func(ctx context.Context, q store.Querier) error {
		first, err := c.ledger.MarkProcessed(ctx, q, env.EventID, c.now().UTC())
		if err != nil {
			return err
		}
		if !first {
			outcome = OutcomeDuplicate
			held, err := c.inventory.ListReservations(ctx, q, placed.OrderID)
			if err != nil {
				return err
			}
			log.Info("Order already handled", zap.Int("reservations_held", len(held)))
			return nil
		}

		short, err := c.lockAndCheck(ctx, q, lines)
		if err != nil {
			return err
		}
		if short != "" {
			outcome = OutcomeOutOfStock
			log.Info("Order rejected", zap.String("sku", short))
			return c.emit(ctx, q, env, placed.OrderID, event.TypeOutOfStock, event.OutOfStock{
				OrderID: placed.OrderID,
				Reason:  event.ReasonInsufficientStock,
			})
		}

		if err := c.reserve(ctx, q, placed.OrderID, lines); err != nil {
			return err
		}
		outcome = OutcomeReserved
		return c.emit(ctx, q, env, placed.OrderID, event.TypeInventoryReserved, event.InventoryReserved{
			OrderID: placed.OrderID,
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to reserve stock for order %s: %w", placed.OrderID, err)
	}

	span.SetAttributes(attribute.String("inventory.outcome", outcome.String()))
	if outcome == OutcomeDuplicate {
		log.Info("Duplicate event skipped")
	} else {
		log.Info("Reservation decided", zap.Stringer("outcome", outcome))
	}
	return outcome, nil
}

// lockAndCheck locks each line's item and returns the first sku that is
// missing or short, or "" when every line can be served.
func (c *Coordinator) lockAndCheck(ctx context.Context, q store.Querier, lines []event.OrderItem) (string, error) {
	for _, line := range lines {
		item, err := c.inventory.LockBySKU(ctx, q, line.SKU)
		if errors.Is(err, store.ErrItemNotFound) {
			return line.SKU, nil
		}
		if err != nil {
			return "", err
		}
		if item.AvailableQty < line.Quantity {
			return line.SKU, nil
		}
	}
	return "", nil
}

func (c *Coordinator) reserve(ctx context.Context, q store.Querier, orderID string, lines []event.OrderItem) error {
	now := c.now().UTC()
	for _, line := range lines {
		if err := c.inventory.Decrement(ctx, q, line.SKU, line.Quantity); err != nil {
			return err
		}
		if err := c.inventory.InsertReservation(ctx, q, store.Reservation{
			ID:        c.newID(),
			OrderID:   orderID,
			SKU:       line.SKU,
			Qty:       line.Quantity,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) emit(ctx context.Context, q store.Querier, src event.Envelope, orderID, eventType string, payload any) error {
	env, err := c.codec.Build(eventType, src.CorrelationID, payload)
	if err != nil {
		return err
	}
	return c.outcomes.PublishOutcome(ctx, q, orderID, env)
}

// mergeLines folds repeated skus into one line and sorts by sku. The sorted
// order is the lock order shared by every reservation. A total that would
// overflow saturates at math.MaxInt, which no stock level can satisfy.
func mergeLines(items []event.OrderItem) []event.OrderItem {
	qty := make(map[string]int, len(items))
	for _, item := range items {
		n := qty[item.SKU]
		if item.Quantity > math.MaxInt-n {
			qty[item.SKU] = math.MaxInt
			continue
		}
		qty[item.SKU] = n + item.Quantity
	}

	lines := make([]event.OrderItem, 0, len(qty))
	for sku, n := range qty {
		lines = append(lines, event.OrderItem{SKU: sku, Quantity: n})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
	return lines
}
