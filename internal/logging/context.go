package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	loggerCtxKey    struct{}
	tenantCtxKey    struct{}
	workflowCtxKey  struct{}
	executionCtxKey struct{}
	requestCtxKey   struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := stringValue(ctx, tenantCtxKey{}); v != "" {
		fields = append(fields, zap.String("tenant_id", v))
	}
	if v := stringValue(ctx, workflowCtxKey{}); v != "" {
		fields = append(fields, zap.String("workflow_id", v))
	}
	if v := stringValue(ctx, executionCtxKey{}); v != "" {
		fields = append(fields, zap.String("execution_id", v))
	}
	if v := stringValue(ctx, requestCtxKey{}); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key interface{}) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithTenant tags ctx with the tenant being processed.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// TenantFromContext returns the tenant tag, or "".
func TenantFromContext(ctx context.Context) string {
	return stringValue(ctx, tenantCtxKey{})
}

// WithExecution tags ctx with the workflow and execution being processed.
func WithExecution(ctx context.Context, workflowID, executionID string) context.Context {
	ctx = context.WithValue(ctx, workflowCtxKey{}, workflowID)
	return context.WithValue(ctx, executionCtxKey{}, executionID)
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
