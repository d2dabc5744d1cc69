package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	Enabled          bool
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

type ProducerConfig struct {
	Brokers      []string
	WriteTimeout time.Duration
	Breaker      BreakerConfig
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes synchronously: Publish returns once the brokers have
// acknowledged the write. Messages with the same key land on the same partition.
type Producer struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewProducer(cfg ProducerConfig, log *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg.Breaker, log)
}

func newProducer(writer messageWriter, cfg BreakerConfig, log *zap.Logger) *Producer {
	p := &Producer{writer: writer, log: log.Named("kafka-producer")}
	if cfg.Enabled {
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kafka-producer",
			MaxRequests: cfg.HalfOpenRequests,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.log.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return p
}

// Publish writes one message to topic keyed by key and waits for the ack.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: InjectTrace(ctx, headers),
		Time:    time.Now(),
	}

	write := func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	}

	var err error
	if p.breaker != nil {
		_, err = p.breaker.Execute(write)
	} else {
		_, err = write()
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
