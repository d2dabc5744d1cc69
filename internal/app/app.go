package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/example/ec-stock-reservation/internal/config"
	"github.com/example/ec-stock-reservation/internal/infrastructure/kafka"
	"github.com/example/ec-stock-reservation/internal/infrastructure/lock"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/example/ec-stock-reservation/internal/logger"
	"github.com/example/ec-stock-reservation/internal/observability"
	"github.com/example/ec-stock-reservation/internal/outbox"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the process-wide resources every service shares.
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	DB       *sql.DB
	Store    *store.Postgres
	Producer *kafka.Producer

	redis   *redis.Client
	closers []func(context.Context) error
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// NewLogger builds the logger and, when enabled, telemetry export.
func NewLogger(ctx context.Context, cfg *config.Config) (*zap.Logger, func(context.Context) error) {
	log := logger.MustSetup(cfg.Logger, cfg.App.ServiceName)
	return observability.Setup(ctx, cfg.App, cfg.Telemetry, log)
}

// New connects the database, applies migrations and creates the Kafka producer.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, shutdownTelemetry := NewLogger(ctx, cfg)
	a := &App{Cfg: cfg, Log: log}
	a.closers = append(a.closers, shutdownTelemetry)

	log.Info("Starting",
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Env),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
	)

	db, err := store.ConnectPostgres(cfg.Database.URL, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a.DB = db
	a.Store = store.NewPostgres(db)
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	log.Info("Connected to PostgreSQL")

	if cfg.Database.Migration.AutoApply {
		if err := store.Migrate(db); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Info("Migrations applied")
	}

	a.Producer = NewProducer(cfg, log)
	a.closers = append(a.closers, func(context.Context) error { return a.Producer.Close() })

	return a, nil
}

func NewProducer(cfg *config.Config, log *zap.Logger) *kafka.Producer {
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		Breaker: kafka.BreakerConfig{
			Enabled:          cfg.Breaker.Enabled,
			MaxFailures:      cfg.Breaker.MaxFailures,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
		},
	}, log)
}

// OutboxPublisher relays the outbox rows written by producer, guarded by a
// Redis lease when Redis is enabled.
func (a *App) OutboxPublisher(name, producer string) *outbox.Publisher {
	p := outbox.NewPublisher(a.Log, outbox.Config{
		Name:         name,
		Producer:     producer,
		PollInterval: a.Cfg.Outbox.PollInterval,
		BatchSize:    a.Cfg.Outbox.BatchSize,
	}, a.Store.DB(), store.NewPostgresOutboxStore(), a.Producer)

	if a.Cfg.Redis.Enabled {
		if a.redis == nil {
			a.redis = redis.NewClient(&redis.Options{
				Addr:     a.Cfg.Redis.Addr,
				Password: a.Cfg.Redis.Password,
				DB:       a.Cfg.Redis.DB,
			})
			a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
		}
		p.WithLocker(lock.NewRedisLocker(a.redis, a.Cfg.Redis.LockKey, a.Cfg.Redis.LockTTL))
		a.Log.Info("Outbox publisher uses redis lease", zap.String("key", a.Cfg.Redis.LockKey))
	}
	return p
}

// Close releases resources in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i](ctx))
	}
	a.closers = nil
	_ = a.Log.Sync()
	return err
}
