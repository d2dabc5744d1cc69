package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func withTraceContextPropagator(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
}

func sampledContext(t *testing.T) (context.Context, trace.SpanContext) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

// ============================================
// Header Propagation Tests
// ============================================

func TestTracePropagation_RoundTrip(t *testing.T) {
	withTraceContextPropagator(t)
	ctx, sc := sampledContext(t)

	headers := InjectTrace(ctx, []kafka.Header{{Key: "x-event-type", Value: []byte("OrderPlaced")}})

	v, ok := Header(headers, "traceparent")
	require.True(t, ok)
	assert.Contains(t, v, sc.TraceID().String())
	v, ok = Header(headers, "x-event-type")
	require.True(t, ok)
	assert.Equal(t, "OrderPlaced", v)

	extracted := trace.SpanContextFromContext(ExtractTrace(context.Background(), headers))
	assert.Equal(t, sc.TraceID(), extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}

func TestHeader_Missing(t *testing.T) {
	_, ok := Header(nil, "x-error")
	assert.False(t, ok)
}

// ============================================
// Producer Tests
// ============================================

func TestProducer_Publish(t *testing.T) {
	withTraceContextPropagator(t)
	ctx, _ := sampledContext(t)
	writer := &fakeWriter{}
	p := newProducer(writer, BreakerConfig{}, zap.NewNop())

	err := p.Publish(ctx, "orders.events", "order-1", []byte(`{}`), kafka.Header{Key: "x-outbox-id", Value: []byte("ob-1")})

	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "orders.events", msg.Topic)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, []byte(`{}`), msg.Value)
	_, ok := Header(msg.Headers, "traceparent")
	assert.True(t, ok)
	_, ok = Header(msg.Headers, "x-outbox-id")
	assert.True(t, ok)
}

func TestProducer_Publish_Error(t *testing.T) {
	writer := &fakeWriter{err: errors.New("leader not available")}
	p := newProducer(writer, BreakerConfig{}, zap.NewNop())

	err := p.Publish(context.Background(), "orders.events", "k", nil)

	assert.ErrorIs(t, err, writer.err)
}

func TestProducer_BreakerOpens(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(writer, BreakerConfig{
		Enabled:          true,
		MaxFailures:      2,
		OpenTimeout:      time.Minute,
		HalfOpenRequests: 1,
	}, zap.NewNop())
	ctx := context.Background()

	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil), writer.err)
	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil), writer.err)

	writer.err = nil
	err := p.Publish(ctx, "t", "k", nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, writer.messages)
}

func TestProducer_Close(t *testing.T) {
	writer := &fakeWriter{}
	p := newProducer(writer, BreakerConfig{}, zap.NewNop())

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

// ============================================
// Consumer Tests
// ============================================

func TestConsumer_CommitsAfterHandler(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Topic: "orders.events", Offset: 1, Value: []byte("a")},
		{Topic: "orders.events", Offset: 2, Value: []byte("b")},
	}}
	c := newConsumer(reader, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	err := c.Consume(ctx, func(ctx context.Context, msg kafka.Message) error {
		seen = append(seen, string(msg.Value))
		if len(seen) == 2 {
			cancel()
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Len(t, reader.committed, 2)
}

func TestConsumer_HandlerErrorStopsWithoutCommit(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Topic: "orders.events", Offset: 7}}}
	c := newConsumer(reader, zap.NewNop())
	stop := errors.New("shutting down")

	err := c.Consume(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Empty(t, reader.committed)
}

func TestConsumer_ExtractsTraceContext(t *testing.T) {
	withTraceContextPropagator(t)
	traced, sc := sampledContext(t)
	reader := &fakeReader{queue: []kafka.Message{{Headers: InjectTrace(traced, nil)}}}
	c := newConsumer(reader, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var got trace.SpanContext
	_ = c.Consume(ctx, func(ctx context.Context, msg kafka.Message) error {
		got = trace.SpanContextFromContext(ctx)
		cancel()
		return nil
	})

	assert.Equal(t, sc.TraceID(), got.TraceID())
}
