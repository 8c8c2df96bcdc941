// pkg/telemetry/telemetry.go
package telemetry

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// EnvEnable turns on span export when set to "1".
const EnvEnable = "KAIJU_TELEMETRY"

var (
	mu       sync.RWMutex
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer("kaiju")
	shutdown              = func(context.Context) error { return nil }
)

// Init configures OpenTelemetry; call this early in main().
// Spans are appended as JSON lines to path when telemetry is enabled,
// otherwise a noop provider is installed.
func Init(service, path string) error {
	if !Enabled() {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		setTracer(tp.Tracer(service), func(context.Context) error { return nil })
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerr.Wrap(err, "failed to create telemetry directory")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cerr.Wrap(err, "failed to open telemetry file")
	}
	return InitWithWriter(service, file)
}

// InitWithWriter exports spans to w. Used by Init and by tests.
func InitWithWriter(service string, w io.Writer) error {
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return cerr.Wrap(err, "failed to create span exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(
			sdkresource.NewWithAttributes(
				semconv.SchemaURL,
				attribute.String("service.name", service),
				attribute.String("host.name", hostname()),
			),
		),
	)

	otel.SetTracerProvider(tp)
	setTracer(tp.Tracer(service), tp.Shutdown)
	return nil
}

// Start a telemetry span with optional attributes.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	mu.RLock()
	t := tracer
	mu.RUnlock()
	return t.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the active provider.
func Shutdown(ctx context.Context) error {
	mu.RLock()
	fn := shutdown
	mu.RUnlock()
	return fn(ctx)
}

// Enabled reports whether span export was requested.
func Enabled() bool {
	return os.Getenv(EnvEnable) == "1"
}

func setTracer(t trace.Tracer, stop func(context.Context) error) {
	mu.Lock()
	defer mu.Unlock()
	tracer = t
	shutdown = stop
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
