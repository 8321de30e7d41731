package shared

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	tenantKey        contextKey = "tenant"
)

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from context, or generates a new one if not present
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// WithTenant records the tenant an operator is working on so log lines can be
// attributed without threading the tenant through every call.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func tenantFromContext(ctx context.Context) string {
	if tenant, ok := ctx.Value(tenantKey).(string); ok {
		return tenant
	}
	return ""
}

func contextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	fields = append(fields, zap.String("correlation_id", GetCorrelationID(ctx)))
	if tenant := tenantFromContext(ctx); tenant != "" {
		fields = append(fields, zap.String("tenant", tenant))
	}
	return fields
}

// LogWithContext logs a message with correlation ID and tenant from context
func LogWithContext(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	logger.Info(msg, contextFields(ctx, fields)...)
}

// LogWarnWithContext logs a warning with correlation ID and tenant from context
func LogWarnWithContext(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	logger.Warn(msg, contextFields(ctx, fields)...)
}

// LogErrorWithContext logs an error with correlation ID and tenant from context
func LogErrorWithContext(ctx context.Context, logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	if logger == nil {
		return
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, contextFields(ctx, fields)...)
}
