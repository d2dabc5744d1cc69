package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	HeaderEventType = "x-event-type"
	HeaderOutboxID  = "x-outbox-id"
)

var (
	ErrRunInProgress = errors.New("outbox run already in progress")
	ErrNotLeader     = errors.New("outbox lease held by another instance")
)

type Repository interface {
	SelectUnpublished(ctx context.Context, q store.Querier, producer string, limit int) ([]store.OutboxRecord, error)
	MarkPublished(ctx context.Context, q store.Querier, id string, sentAt time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// Locker grants a lease that lets one replica relay at a time.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is held for one run. Extend is called before every record so a slow
// batch keeps its lease.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

type Config struct {
	Name         string
	PollInterval time.Duration
	BatchSize    int

	// Producer selects the outbox rows this publisher owns. Services sharing
	// one outbox table relay only their own rows.
	Producer string
}

// RunResult describes one pass over the outbox.
type RunResult struct {
	Selected  int
	Published int
	// FailedID is the record that stopped the batch, if any.
	FailedID string
}

// Publisher relays unpublished outbox records to Kafka in creation order.
type Publisher struct {
	l        *zap.Logger
	cfg      Config
	db       store.Querier
	repo     Repository
	producer Producer
	locker   Locker
	now      func() time.Time

	running atomic.Bool
}

func NewPublisher(l *zap.Logger, cfg Config, db store.Querier, repo Repository, producer Producer) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Publisher{
		l:        l.Named("outbox").With(zap.String("publisher", cfg.Name), zap.String("producer", cfg.Producer)),
		cfg:      cfg,
		db:       db,
		repo:     repo,
		producer: producer,
		now:      time.Now,
	}
}

// WithLocker makes every run require a lease from locker.
func (p *Publisher) WithLocker(locker Locker) *Publisher {
	p.locker = locker
	return p
}

// Run polls the outbox until ctx is cancelled. A tick that fires while a run
// is still going is skipped.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.l.Info("Outbox publisher started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.l.Info("Outbox publisher stopped")
			return
		case <-ticker.C:
			res, err := p.PublishPending(ctx)
			switch {
			case err == nil:
				if res.Published > 0 {
					p.l.Debug("Outbox batch relayed", zap.Int("published", res.Published))
				}
			case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrNotLeader):
				p.l.Debug("Outbox run skipped", zap.Error(err))
			case ctx.Err() != nil:
				// shutting down
			default:
				p.l.Warn("Outbox run stopped early",
					zap.Int("selected", res.Selected),
					zap.Int("published", res.Published),
					zap.String("failed_id", res.FailedID),
					zap.Error(err),
				)
			}
		}
	}
}

// PublishPending relays one batch. Each record is sent, acknowledged and then
// marked published on its own; the first failure ends the batch so nothing
// is sent ahead of an older unsent record.
func (p *Publisher) PublishPending(ctx context.Context) (res RunResult, err error) {
	if !p.running.CompareAndSwap(false, true) {
		return res, ErrRunInProgress
	}
	defer p.running.Store(false)

	var lease Lease
	if p.locker != nil {
		lease, err = p.locker.Acquire(ctx)
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		defer func() {
			if rErr := lease.Release(context.WithoutCancel(ctx)); rErr != nil {
				p.l.Warn("Failed to release outbox lease", zap.Error(rErr))
			}
		}()
	}

	ctx, span := otel.Tracer("outbox").Start(ctx, "outbox.publish_pending")
	defer func() {
		span.SetAttributes(
			attribute.Int("outbox.selected", res.Selected),
			attribute.Int("outbox.published", res.Published),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	records, err := p.repo.SelectUnpublished(ctx, p.db, p.cfg.Producer, p.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to select unpublished records: %w", err)
	}
	res.Selected = len(records)

	for _, rec := range records {
		if lease != nil {
			if err := lease.Extend(ctx); err != nil {
				res.FailedID = rec.ID
				return res, fmt.Errorf("%w: lease lost: %v", ErrNotLeader, err)
			}
		}
		if err := p.relay(ctx, rec); err != nil {
			res.FailedID = rec.ID
			return res, err
		}
		res.Published++
	}
	return res, nil
}

func (p *Publisher) relay(ctx context.Context, rec store.OutboxRecord) error {
	err := p.producer.Publish(ctx, rec.Topic, rec.AggregateID, rec.Payload,
		kafka.Header{Key: HeaderEventType, Value: []byte(rec.EventType)},
		kafka.Header{Key: HeaderOutboxID, Value: []byte(rec.ID)},
	)
	if err != nil {
		return fmt.Errorf("failed to send outbox record %s: %w", rec.ID, err)
	}

	if err := p.repo.MarkPublished(ctx, p.db, rec.ID, p.now().UTC()); err != nil {
		return fmt.Errorf("record %s sent but not marked: %w", rec.ID, err)
	}

	p.l.Debug("Outbox record published",
		zap.String("outbox_id", rec.ID),
		zap.String("aggregate_id", rec.AggregateID),
		zap.String("event_type", rec.EventType),
		zap.String("topic", rec.Topic),
	)
	return nil
}
