package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store/mocks"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers []kafka.Header
}

type fakeProducer struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn func(key string) error
	block  chan struct{}
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != nil {
		if err := p.failOn(key); err != nil {
			return err
		}
	}
	p.sent = append(p.sent, sentMessage{Topic: topic, Key: key, Value: value, Headers: headers})
	return nil
}

func (p *fakeProducer) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		keys = append(keys, m.Key)
	}
	return keys
}

type fakeLocker struct {
	err       error
	extendErr func(n int) error
	acquired  int
	extended  int
	released  int
}

func (l *fakeLocker) Acquire(ctx context.Context) (Lease, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return l, nil
}

func (l *fakeLocker) Extend(ctx context.Context) error {
	l.extended++
	if l.extendErr != nil {
		return l.extendErr(l.extended)
	}
	return nil
}

func (l *fakeLocker) Release(ctx context.Context) error {
	l.released++
	return nil
}

const testProducer = "order-service"

func newTestPublisher(batch int) (*Publisher, *mocks.MemoryDB, *mocks.OutboxRepository, *fakeProducer) {
	db := mocks.NewMemoryDB()
	repo := mocks.NewOutboxRepository(db)
	producer := &fakeProducer{}
	p := NewPublisher(zap.NewNop(), Config{
		Name:         "test",
		Producer:     testProducer,
		BatchSize:    batch,
		PollInterval: 10 * time.Millisecond,
	}, nil, repo, producer)
	return p, db, repo, producer
}

func addPending(db *mocks.MemoryDB, ids ...string) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		db.AddOutboxRecord(store.OutboxRecord{
			ID:          id,
			Producer:    testProducer,
			AggregateID: "order-" + id,
			EventType:   "OrderPlaced",
			Topic:       "orders.events",
			Payload:     []byte(`{"id":"` + id + `"}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
	}
}

func published(db *mocks.MemoryDB) map[string]bool {
	out := map[string]bool{}
	for _, rec := range db.OutboxRecords() {
		out[rec.ID] = rec.Published
	}
	return out
}

// ============================================
// PublishPending Tests
// ============================================

func TestPublisher_PublishPending_All(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1", "2", "3")

	res, err := p.PublishPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunResult{Selected: 3, Published: 3}, res)
	assert.Equal(t, []string{"order-1", "order-2", "order-3"}, producer.keys())
	for _, rec := range db.OutboxRecords() {
		assert.True(t, rec.Published)
		assert.NotNil(t, rec.SentAt)
	}
}

func TestPublisher_PublishPending_SecondSendFails(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1", "2", "3")
	sendErr := errors.New("broker unavailable")
	producer.failOn = func(key string) error {
		if key == "order-2" {
			return sendErr
		}
		return nil
	}

	res, err := p.PublishPending(context.Background())

	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, RunResult{Selected: 3, Published: 1, FailedID: "2"}, res)
	assert.Equal(t, map[string]bool{"1": true, "2": false, "3": false}, published(db))
	assert.Equal(t, []string{"order-1"}, producer.keys())

	// Next run retries the failed record and the one behind it, in order
	producer.failOn = nil
	res, err = p.PublishPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunResult{Selected: 2, Published: 2}, res)
	assert.Equal(t, []string{"order-1", "order-2", "order-3"}, producer.keys())
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, published(db))
}

func TestPublisher_PublishPending_BatchLimit(t *testing.T) {
	p, db, _, producer := newTestPublisher(2)
	addPending(db, "1", "2", "3")

	res, err := p.PublishPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, []string{"order-1", "order-2"}, producer.keys())
	assert.False(t, published(db)["3"])
}

func TestPublisher_PublishPending_OldestFirst(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db.AddOutboxRecord(store.OutboxRecord{ID: "late", Producer: testProducer, AggregateID: "b", Topic: "t", CreatedAt: base.Add(time.Minute)})
	db.AddOutboxRecord(store.OutboxRecord{ID: "early", Producer: testProducer, AggregateID: "a", Topic: "t", CreatedAt: base})

	_, err := p.PublishPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, producer.keys())
}

func TestPublisher_PublishPending_Headers(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1")

	_, err := p.PublishPending(context.Background())
	require.NoError(t, err)

	msg := producer.sent[0]
	assert.Equal(t, "orders.events", msg.Topic)
	assert.Equal(t, []byte(`{"id":"1"}`), msg.Value)
	assert.Contains(t, msg.Headers, kafka.Header{Key: HeaderEventType, Value: []byte("OrderPlaced")})
	assert.Contains(t, msg.Headers, kafka.Header{Key: HeaderOutboxID, Value: []byte("1")})
}

func TestPublisher_PublishPending_MarkFailureStopsBatch(t *testing.T) {
	p, db, repo, producer := newTestPublisher(50)
	addPending(db, "1", "2")
	repo.MarkErr = errors.New("write timeout")

	res, err := p.PublishPending(context.Background())

	assert.ErrorIs(t, err, repo.MarkErr)
	assert.Equal(t, "1", res.FailedID)
	assert.Equal(t, 0, res.Published)
	assert.Equal(t, []string{"order-1"}, producer.keys())
	assert.Equal(t, map[string]bool{"1": false, "2": false}, published(db))
}

func TestPublisher_PublishPending_SelectFailure(t *testing.T) {
	p, _, repo, producer := newTestPublisher(50)
	repo.SelectErr = errors.New("db down")

	_, err := p.PublishPending(context.Background())

	assert.ErrorIs(t, err, repo.SelectErr)
	assert.Empty(t, producer.keys())
}

func TestPublisher_PublishPending_Empty(t *testing.T) {
	p, _, _, _ := newTestPublisher(50)

	res, err := p.PublishPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunResult{}, res)
}

func TestPublisher_PublishPending_OnlyOwnRows(t *testing.T) {
	db := mocks.NewMemoryDB()
	repo := mocks.NewOutboxRepository(db)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db.AddOutboxRecord(store.OutboxRecord{ID: "o1", Producer: "order-service", AggregateID: "order-1", Topic: "orders.events", CreatedAt: base})
	db.AddOutboxRecord(store.OutboxRecord{ID: "i1", Producer: "inventory-service", AggregateID: "order-1", Topic: "inventory.events", CreatedAt: base.Add(time.Second)})
	db.AddOutboxRecord(store.OutboxRecord{ID: "o2", Producer: "order-service", AggregateID: "order-2", Topic: "orders.events", CreatedAt: base.Add(2 * time.Second)})

	orderSends := &fakeProducer{}
	inventorySends := &fakeProducer{}
	orders := NewPublisher(zap.NewNop(), Config{Name: "orders", Producer: "order-service"}, nil, repo, orderSends)
	inventory := NewPublisher(zap.NewNop(), Config{Name: "inventory", Producer: "inventory-service"}, nil, repo, inventorySends)

	res, err := orders.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Selected: 2, Published: 2}, res)

	res, err = inventory.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Selected: 1, Published: 1}, res)

	assert.Equal(t, []string{"order-1", "order-2"}, orderSends.keys())
	assert.Equal(t, []string{"order-1"}, inventorySends.keys())
	for _, m := range orderSends.sent {
		assert.Equal(t, "orders.events", m.Topic)
	}
	assert.Equal(t, "inventory.events", inventorySends.sent[0].Topic)
	assert.Equal(t, map[string]bool{"o1": true, "i1": true, "o2": true}, published(db))
}

// ============================================
// Concurrency Tests
// ============================================

func TestPublisher_PublishPending_SingleActiveRun(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1")
	producer.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := p.PublishPending(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return p.running.Load() }, time.Second, time.Millisecond)

	_, err := p.PublishPending(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(producer.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"order-1"}, producer.keys())
}

func TestPublisher_Locker(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1")
	locker := &fakeLocker{}
	p.WithLocker(locker)

	_, err := p.PublishPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.extended)
	assert.Equal(t, 1, locker.released)
	assert.Len(t, producer.keys(), 1)
}

func TestPublisher_Locker_LeaseLostMidBatch(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1", "2", "3")
	locker := &fakeLocker{extendErr: func(n int) error {
		if n == 2 {
			return errors.New("lock was not held or already expired")
		}
		return nil
	}}
	p.WithLocker(locker)

	res, err := p.PublishPending(context.Background())

	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Equal(t, RunResult{Selected: 3, Published: 1, FailedID: "2"}, res)
	assert.Equal(t, []string{"order-1"}, producer.keys())
	assert.Equal(t, map[string]bool{"1": true, "2": false, "3": false}, published(db))
	assert.Equal(t, 1, locker.released)
}

func TestPublisher_Locker_NotLeader(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1")
	p.WithLocker(&fakeLocker{err: errors.New("lock already held")})

	_, err := p.PublishPending(context.Background())

	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Empty(t, producer.keys())
	assert.False(t, published(db)["1"])
}

// ============================================
// Run Loop Tests
// ============================================

func TestPublisher_Run(t *testing.T) {
	p, db, _, producer := newTestPublisher(50)
	addPending(db, "1", "2")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return len(producer.keys()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
