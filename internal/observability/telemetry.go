// Package observability sets up the process wide logger, Prometheus metrics
// endpoint and OpenTelemetry tracing of the menu service binaries.
package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls telemetry exporters and listeners. Empty addresses disable
// the matching exporter.
type Config struct {
	ServiceName  string
	MetricsAddr  string
	OTLPEndpoint string
}

// NewLogger builds the root logger. level falls back to info when it does not
// parse; pretty switches to the human readable console writer.
func NewLogger(service, level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", service).Logger()
}

// Start wires tracing and the metrics listener. The returned function flushes
// spans and stops the listener; call it during graceful shutdown.
func Start(ctx context.Context, cfg Config, logger zerolog.Logger) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider, err := startTracing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, logger)

	return func(ctx context.Context) error {
		var errs []error
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(ctx))
		}
		if provider != nil {
			errs = append(errs, provider.Shutdown(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func startTracing(ctx context.Context, cfg Config, logger zerolog.Logger) (*sdktrace.TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName))),
	)
	otel.SetTracerProvider(provider)
	logger.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("otlp tracing enabled")
	return provider, nil
}

func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics server started")
	return srv
}

// LoggerWithTrace attaches trace context to the provided logger when available.
func LoggerWithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With().Str("trace_id", spanCtx.TraceID().String()).Str("span_id", spanCtx.SpanID().String()).Logger()
}

// RegisterRuntimeCollectors exposes the goroutine count and the last GC pause.
// Calling it more than once is harmless.
func RegisterRuntimeCollectors() {
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "menu_sync",
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Number of goroutines in the process.",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	}))
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "menu_sync",
		Subsystem: "runtime",
		Name:      "last_gc_pause_seconds",
		Help:      "Duration of the most recent GC pause.",
	}, func() float64 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return time.Duration(stats.PauseNs[(stats.NumGC+255)%256]).Seconds()
	}))
}

func register(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			panic(err)
		}
	}
}
