package consumer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	HeaderSourceEventID = "x-source-event-id"
	HeaderError         = "x-error"

	// UnknownSourceEventID keys dead letters whose event id could not be trusted.
	UnknownSourceEventID = "unknown"
)

// Handler processes one validated event. It must be safe to call again with
// the same event after a failure.
type Handler interface {
	Handle(ctx context.Context, env event.Envelope, payload event.OrderPlaced) error
}

type HandlerFunc func(ctx context.Context, env event.Envelope, payload event.OrderPlaced) error

func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope, payload event.OrderPlaced) error {
	return f(ctx, env, payload)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

type Config struct {
	MaxAttempts       int
	Backoff           time.Duration
	DeadLetterTopic   string
	ExpectedEventType string
}

// Result describes how a message left the wrapper.
type Result struct {
	Attempts     int
	DeadLettered bool
	// Err is the validation or last handler error behind a dead letter.
	Err error
}

// Wrapper validates inbound messages, retries the handler on failure and
// dead-letters what cannot be processed.
type Wrapper struct {
	l        *zap.Logger
	cfg      Config
	handler  Handler
	producer Producer
	codec    *event.Codec
}

func NewWrapper(l *zap.Logger, cfg Config, handler Handler, producer Producer) *Wrapper {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExpectedEventType == "" {
		cfg.ExpectedEventType = event.TypeOrderPlaced
	}
	return &Wrapper{
		l:        l.Named("consumer"),
		cfg:      cfg,
		handler:  handler,
		producer: producer,
		codec:    event.NewCodec(event.ProducerInventoryService),
	}
}

// HandleMessage adapts Process to the Kafka consume loop. Only a cancelled
// context is returned, which leaves the offset uncommitted.
func (w *Wrapper) HandleMessage(ctx context.Context, msg kafka.Message) error {
	_, err := w.Process(ctx, msg.Value)
	return err
}

// Process runs raw through validation and the handler. The returned error is
// non-nil only when ctx ends first; every other outcome is final and the
// message may be committed.
func (w *Wrapper) Process(ctx context.Context, raw []byte) (Result, error) {
	ctx, span := otel.Tracer("consumer").Start(ctx, "consumer.process")
	defer span.End()

	env, payload, err := Validate(raw, w.cfg.ExpectedEventType)
	if err != nil {
		w.l.Warn("Rejected invalid message", zap.Error(err))
		span.SetAttributes(attribute.Bool("consumer.dead_lettered", true))
		span.SetStatus(codes.Error, err.Error())
		w.deadLetter(ctx, raw, UnknownSourceEventID, "", err)
		return Result{DeadLettered: true, Err: err}, nil
	}

	log := w.l.With(
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("order_id", payload.OrderID),
	)
	span.SetAttributes(
		attribute.String("event.id", env.EventID),
		attribute.String("event.correlation_id", env.CorrelationID),
	)

	attempts := 0
	operation := func() error {
		attempts++
		err := w.handler.Handle(ctx, env, payload)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if attempts < w.cfg.MaxAttempts {
			log.Warn("Processing failed, retrying",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", w.cfg.MaxAttempts),
				zap.Error(err),
			)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.Backoff), uint64(w.cfg.MaxAttempts-1)),
		ctx,
	)
	err = backoff.Retry(operation, policy)
	span.SetAttributes(attribute.Int("consumer.attempts", attempts))

	if ctx.Err() != nil {
		log.Info("Processing interrupted", zap.Int("attempts", attempts))
		return Result{Attempts: attempts}, ctx.Err()
	}
	if err == nil {
		return Result{Attempts: attempts}, nil
	}

	log.Error("Processing failed after all attempts", zap.Int("attempts", attempts), zap.Error(err))
	span.SetAttributes(attribute.Bool("consumer.dead_lettered", true))
	span.SetStatus(codes.Error, err.Error())
	w.deadLetter(ctx, raw, env.EventID, env.CorrelationID, err)
	return Result{Attempts: attempts, DeadLettered: true, Err: err}, nil
}

// deadLetter publishes an InventoryEventFailed envelope for raw. A failed
// publish is logged and the message is still treated as done.
func (w *Wrapper) deadLetter(ctx context.Context, raw []byte, sourceEventID, correlationID string, cause error) {
	reason := cause.Error()
	log := w.l.With(zap.String("source_event_id", sourceEventID), zap.String("error", reason))

	value, err := w.codec.Encode(event.TypeInventoryEventFailed, correlationID, event.InventoryEventFailed{
		SourceEventID: sourceEventID,
		Error:         reason,
		OriginalEvent: event.OriginalEvent(raw),
	})
	if err != nil {
		log.Error("Failed to encode dead letter", zap.Error(err))
		return
	}

	err = w.producer.Publish(ctx, w.cfg.DeadLetterTopic, sourceEventID, value,
		kafka.Header{Key: HeaderSourceEventID, Value: []byte(sourceEventID)},
		kafka.Header{Key: HeaderError, Value: []byte(reason)},
	)
	if err != nil {
		log.Error("Failed to publish dead letter", zap.Error(err))
		return
	}
	log.Error("Published event to dead letter topic", zap.String("topic", w.cfg.DeadLetterTopic))
}
