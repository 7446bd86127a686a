package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across strata.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldThreadID      = "thread_id"
	FieldContextID     = "context_id"
	FieldContextKind   = "context_kind"
	FieldTransactionID = "tx_id"
	FieldObjectID      = "object_id"
	FieldEntity        = "entity"

	// Components
	FieldComponent = "component"
	FieldQueue     = "queue"

	// Operations
	FieldOperation = "operation"
	FieldMode      = "mode"
	FieldQuery     = "query"
	FieldState     = "state"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount    = "count"
	FieldInserted = "inserted"
	FieldUpdated  = "updated"
	FieldDeleted  = "deleted"
	FieldWorkers  = "workers"

	// Files and paths
	FieldPath = "path"
	FieldFile = "file"
)

// Context keys for propagating logging context
type contextKey string

const (
	componentKey contextKey = "logger_component"
	operationKey contextKey = "logger_operation"
)

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithOperation adds an operation name to the context for logging
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}
	if operation, ok := ctx.Value(operationKey).(string); ok && operation != "" {
		fields = append(fields, FieldOperation, operation)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
