package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var global struct {
	once sync.Once
	mu   sync.Mutex
	tp   *sdktrace.TracerProvider
	err  error
}

func newProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
		sdktrace.WithResource(res),
	), nil
}

// InitOpenTelemetry installs a process-wide tracer provider. Only the first
// call takes effect; later calls return the first call's result.
func InitOpenTelemetry(serviceName string) error {
	global.once.Do(func() {
		tp, err := newProvider(serviceName)
		if err != nil {
			global.err = err
			return
		}
		global.mu.Lock()
		global.tp = tp
		global.mu.Unlock()
		otel.SetTracerProvider(tp)
	})
	return global.err
}

// ShutdownOpenTelemetry flushes pending spans. A no-op when tracing was
// never initialized.
func ShutdownOpenTelemetry(ctx context.Context) error {
	global.mu.Lock()
	tp := global.tp
	global.mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span and stamps it with the scope id carried in the
// context, so per-scope operations can be told apart in a trace. The
// returned context carries the span's trace id for log correlation.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if scopeID := GetScopeID(ctx); scopeID != "" {
		attrs = append(attrs, attribute.String("scope_id", scopeID))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}
