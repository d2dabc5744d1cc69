package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-stock-reservation/internal/config"
	"github.com/example/ec-stock-reservation/internal/logger"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

const (
	exportTimeout = 10 * time.Second
	maxQueueSize  = 2048
)

// SetPropagator installs W3C trace context and baggage propagation. It is
// needed even when export is disabled so trace ids still flow through Kafka.
func SetPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func newResource(app config.App) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(app.ServiceName),
			semconv.ServiceVersion(app.Version),
		),
	)
}

func headers(cfg config.Telemetry) map[string]string {
	if cfg.AuthHeader == "" {
		return nil
	}
	return map[string]string{"Authorization": cfg.AuthHeader}
}

// SetupTracingSDK initializes OpenTelemetry tracing with OTLP/HTTP export
func SetupTracingSDK(ctx context.Context, app config.App, cfg config.Telemetry) (shutdown func(context.Context) error, err error) {
	res, err := newResource(app)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	SetPropagator()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithURLPath(cfg.TracesPath),
	}
	if h := headers(cfg); h != nil {
		opts = append(opts, otlptracehttp.WithHeaders(h))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(exportTimeout),
			sdktrace.WithMaxQueueSize(maxQueueSize),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// SetupLoggingSDK initializes OpenTelemetry logging with OTLP/HTTP export
func SetupLoggingSDK(ctx context.Context, app config.App, cfg config.Telemetry) (shutdown func(context.Context) error, err error) {
	res, err := newResource(app)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(cfg.Endpoint),
		otlploghttp.WithURLPath(cfg.LogsPath),
	}
	if h := headers(cfg); h != nil {
		opts = append(opts, otlploghttp.WithHeaders(h))
	}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}

	exporter, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(exportTimeout),
			sdklog.WithMaxQueueSize(maxQueueSize),
		)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	return lp.Shutdown, nil
}

// Setup wires tracing and log export when telemetry is enabled and returns a
// logger that also ships records through the OpenTelemetry log pipeline.
// Export failures are logged and the service keeps running without them.
func Setup(ctx context.Context, app config.App, cfg config.Telemetry, log *zap.Logger) (*zap.Logger, func(context.Context) error) {
	SetPropagator()
	if !cfg.Enabled {
		return log, func(context.Context) error { return nil }
	}

	var shutdowns []func(context.Context) error

	if shutdown, err := SetupTracingSDK(ctx, app, cfg); err != nil {
		log.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	} else {
		shutdowns = append(shutdowns, shutdown)
	}

	if shutdown, err := SetupLoggingSDK(ctx, app, cfg); err != nil {
		log.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	} else {
		shutdowns = append(shutdowns, shutdown)
		log = logger.Tee(log, otelzap.NewCore(app.ServiceName,
			otelzap.WithLoggerProvider(global.GetLoggerProvider()),
		))
	}

	return log, func(ctx context.Context) error {
		var err error
		for _, fn := range shutdowns {
			err = errors.Join(err, fn(ctx))
		}
		return err
	}
}
