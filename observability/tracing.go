package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seb7887/gofw/stillsuit"
)

const (
	instrumentationName = "github.com/seb7887/gofw/stillsuit"
)

var _ stillsuit.QueryLogger = (*TracingLogger)(nil)

// TracingLogger turns every logged entry into a span. Entries arrive once the
// work is done, so spans are backdated by the reported duration.
type TracingLogger struct {
	tracer trace.Tracer
	now    func() time.Time
}

// NewTracingLogger creates a tracing logger with the given tracer provider.
// If provider is nil, uses the global tracer provider.
func NewTracingLogger(provider trace.TracerProvider) *TracingLogger {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingLogger{
		tracer: provider.Tracer(instrumentationName),
		now:    time.Now,
	}
}

func (l *TracingLogger) record(ctx context.Context, name string, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	end := l.now()
	_, span := l.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(end.Add(-duration)),
		trace.WithAttributes(attrs...),
	)
	if scope, ok := stillsuit.Current(ctx); ok {
		span.SetAttributes(attribute.String("stillsuit.uow", scope.ID()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// LogQuery implements stillsuit.QueryLogger
func (l *TracingLogger) LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error) {
	l.record(ctx, "stillsuit."+operation, duration, err,
		attribute.String("db.operation", operation),
		attribute.String("db.statement", query),
		attribute.Int("db.args", len(args)),
	)
}

// LogOperation implements stillsuit.QueryLogger
func (l *TracingLogger) LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error) {
	l.record(ctx, "stillsuit."+operation, duration, err,
		attribute.String("stillsuit.operation", operation),
		attribute.String("stillsuit.entity", entityType),
	)
}
