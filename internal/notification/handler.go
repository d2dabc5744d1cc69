package notification

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerSourceEventID = "x-source-event-id"
	headerError         = "x-error"
)

var ErrNotFailureEvent = errors.New("not an InventoryEventFailed event")

// Failure is a dead-lettered event as seen by the operator.
type Failure struct {
	EventID       string
	CorrelationID string
	SourceEventID string
	Error         string
	OriginalEvent []byte
	Partition     int
	Offset        int64
}

// Handler reports dead-lettered events. It never fails a message, so the
// monitor keeps moving past anything it cannot read.
type Handler struct {
	l     *zap.Logger
	count atomic.Int64
}

func NewHandler(l *zap.Logger) *Handler {
	return &Handler{l: l.Named("dlq")}
}

// HandleMessage logs one dead letter from the DLQ topic
func (h *Handler) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	f, err := Parse(msg)
	if err != nil {
		h.l.Warn("Unreadable dead letter",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	n := h.count.Add(1)
	h.l.Error("Event dead-lettered",
		zap.String("source_event_id", f.SourceEventID),
		zap.String("correlation_id", f.CorrelationID),
		zap.String("error", f.Error),
		zap.ByteString("original_event", f.OriginalEvent),
		zap.Int("partition", f.Partition),
		zap.Int64("offset", f.Offset),
		zap.Int64("seen", n),
	)
	return nil
}

// Count returns how many dead letters were reported
func (h *Handler) Count() int64 {
	return h.count.Load()
}

// Parse reads a dead letter. The headers win over the payload when both are
// present, since they are written by the same publish.
func Parse(msg kafkago.Message) (*Failure, error) {
	env, err := event.Decode(msg.Value)
	if err != nil {
		return nil, err
	}
	if env.EventType != event.TypeInventoryEventFailed {
		return nil, ErrNotFailureEvent
	}

	var payload event.InventoryEventFailed
	if err := env.DecodePayload(&payload); err != nil {
		return nil, err
	}

	f := &Failure{
		EventID:       env.EventID,
		CorrelationID: env.CorrelationID,
		SourceEventID: payload.SourceEventID,
		Error:         payload.Error,
		OriginalEvent: payload.OriginalEvent,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
	}
	if v, ok := kafka.Header(msg.Headers, headerSourceEventID); ok {
		f.SourceEventID = v
	}
	if v, ok := kafka.Header(msg.Headers, headerError); ok {
		f.Error = v
	}
	return f, nil
}
