package main

import (
	"context"
	"time"

	"github.com/example/ec-stock-reservation/internal/app"
	"github.com/example/ec-stock-reservation/internal/config"
	"github.com/example/ec-stock-reservation/internal/infrastructure/kafka"
	"github.com/example/ec-stock-reservation/internal/notification"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	ctx, stop := app.SignalContext()
	defer stop()

	log, shutdownTelemetry := app.NewLogger(ctx, cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
		_ = log.Sync()
	}()

	groupID := cfg.Kafka.GroupID + "-dlq-monitor"
	c := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, groupID, log)
	defer c.Close()

	handler := notification.NewHandler(log)
	log.Info("Watching dead letter topic",
		zap.String("topic", cfg.Kafka.DeadLetterTopic),
		zap.String("group_id", groupID),
	)

	for ctx.Err() == nil {
		if err := c.Consume(ctx, handler.HandleMessage); err != nil && ctx.Err() == nil {
			log.Warn("Consumer stopped, restarting", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}

	log.Info("Shutting down", zap.Int64("dead_letters_seen", handler.Count()))
}
