package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"sync"
	"time"

	"github.com/example/ec-stock-reservation/internal/app"
	"github.com/example/ec-stock-reservation/internal/config"
	"github.com/example/ec-stock-reservation/internal/consumer"
	"github.com/example/ec-stock-reservation/internal/domain/inventory"
	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/kafka"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"go.uber.org/zap"
)

func main() {
	printConfig := flag.Bool("print-config", false, "print the resolved configuration and exit")

	cfg := config.MustLoad()
	if *printConfig {
		if err := config.Print(os.Stdout, cfg); err != nil {
			panic(err)
		}
		return
	}

	ctx, stop := app.SignalContext()
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		panic(err)
	}
	log := a.Log

	items := store.NewPostgresInventoryStore()

	if cfg.Inventory.SeedEnabled {
		seed := make([]store.InventoryItem, 0, len(cfg.Inventory.Seed))
		for _, s := range cfg.Inventory.Seed {
			seed = append(seed, store.InventoryItem{SKU: s.SKU, AvailableQty: s.AvailableQty})
		}
		if err := inventory.Seed(ctx, a.Store, items, seed); err != nil {
			log.Fatal("Failed to seed inventory", zap.Error(err))
		}
		log.Info("Inventory seeded", zap.Int("items", len(seed)))
	}

	var wg sync.WaitGroup

	var outcomes inventory.OutcomePublisher
	switch cfg.Inventory.OutcomeDelivery {
	case config.OutcomeDeliveryDirect:
		outcomes = inventory.NewDirectOutcomes(a.Producer, cfg.Kafka.InventoryTopic)
	default:
		outcomes = inventory.NewOutboxOutcomes(store.NewPostgresOutboxStore(), cfg.Kafka.InventoryTopic)
		publisher := a.OutboxPublisher("inventory", event.ProducerInventoryService)
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(ctx)
		}()
	}
	log.Info("Outcome delivery", zap.String("mode", cfg.Inventory.OutcomeDelivery))

	coordinator := inventory.NewCoordinator(log, a.Store, store.NewPostgresLedgerStore(), items, outcomes)
	wrapper := consumer.NewWrapper(log, consumer.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		Backoff:           cfg.Retry.Backoff,
		DeadLetterTopic:   cfg.Kafka.DeadLetterTopic,
		ExpectedEventType: event.TypeOrderPlaced,
	}, consumer.HandlerFunc(func(ctx context.Context, env event.Envelope, payload event.OrderPlaced) error {
		_, err := coordinator.Handle(ctx, env, payload)
		return err
	}), a.Producer)

	for i := 0; i < cfg.Kafka.Workers; i++ {
		worker := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.GroupID, log.With(zap.Int("worker", i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer worker.Close()
			runWorker(ctx, log, worker, wrapper)
		}()
	}
	log.Info("Consumers started",
		zap.String("topic", cfg.Kafka.OrdersTopic),
		zap.String("group_id", cfg.Kafka.GroupID),
		zap.Int("workers", cfg.Kafka.Workers),
	)

	<-ctx.Done()
	log.Info("Shutting down...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}
}

// runWorker restarts the consume loop whenever the handler stops it, until
// ctx ends. The uncommitted message is fetched again on restart.
func runWorker(ctx context.Context, log *zap.Logger, c *kafka.Consumer, w *consumer.Wrapper) {
	for {
		err := c.Consume(ctx, w.HandleMessage)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Consumer stopped, restarting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
