package stillsuit

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// QueryLogger defines the interface for logging repository operations
type QueryLogger interface {
	// LogQuery logs a query execution with timing and error information
	LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error)

	// LogOperation logs a high-level repository or unit of work operation
	LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error)
}

// HCLogger writes operations to a hclog.Logger. Successful operations go to
// Debug, failures to Error.
type HCLogger struct {
	log hclog.Logger
}

// NewHCLogger wraps l, a nil logger yields hclog's default logger named "stillsuit"
func NewHCLogger(l hclog.Logger) *HCLogger {
	if l == nil {
		l = hclog.New(&hclog.LoggerOptions{Name: "stillsuit", Level: hclog.Info})
	}
	return &HCLogger{log: l}
}

// LogQuery implements QueryLogger
func (l *HCLogger) LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error) {
	fields := []any{"operation", operation, "query", query, "args", len(args), "duration", duration}
	if scope, ok := Current(ctx); ok {
		fields = append(fields, "uow", scope.ID())
	}
	if err != nil {
		l.log.Error("query failed", append(fields, "error", err)...)
		return
	}
	l.log.Debug("query", fields...)
}

// LogOperation implements QueryLogger
func (l *HCLogger) LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error) {
	fields := []any{"operation", operation, "entity", entityType, "duration", duration}
	if scope, ok := Current(ctx); ok {
		fields = append(fields, "uow", scope.ID())
	}
	if err != nil {
		l.log.Error("operation failed", append(fields, "error", err)...)
		return
	}
	l.log.Debug("operation", fields...)
}

// NoOpLogger is a logger that does nothing (useful for disabling logging)
type NoOpLogger struct{}

// NewNoOpLogger creates a no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogQuery implements QueryLogger
func (l *NoOpLogger) LogQuery(context.Context, string, string, []any, time.Duration, error) {}

// LogOperation implements QueryLogger
func (l *NoOpLogger) LogOperation(context.Context, string, string, time.Duration, error) {}

type chainLogger []QueryLogger

// ChainLoggers fans every entry out to all loggers, nil entries are skipped
func ChainLoggers(loggers ...QueryLogger) QueryLogger {
	var chain chainLogger
	for _, l := range loggers {
		if l != nil {
			chain = append(chain, l)
		}
	}
	return chain
}

func (c chainLogger) LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error) {
	for _, l := range c {
		l.LogQuery(ctx, operation, query, args, duration, err)
	}
}

func (c chainLogger) LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error) {
	for _, l := range c {
		l.LogOperation(ctx, operation, entityType, duration, err)
	}
}

// logOperation is a helper to log an operation with timing
func logOperation(logger QueryLogger, ctx context.Context, operation string, entityType string, start time.Time, err error) {
	if logger != nil {
		logger.LogOperation(ctx, operation, entityType, time.Since(start), err)
	}
}

// LogQuery is the helper engines use to report a statement with timing
func LogQuery(logger QueryLogger, ctx context.Context, operation string, query string, args []any, start time.Time, err error) {
	if logger != nil {
		logger.LogQuery(ctx, operation, query, args, time.Since(start), err)
	}
}
