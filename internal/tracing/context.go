package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ScopeIDKey is the context key for the memory scope ID
	ScopeIDKey ContextKey = "scope_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithScopeID adds a scope ID to the context
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, ScopeIDKey, scopeID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// GetScopeID retrieves the scope ID from the context
func GetScopeID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ScopeIDKey).(string); ok {
		return v
	}
	return ""
}

// LoggerFromContext returns the base logger enriched with tracing fields
// present in the context.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}

	logCtx := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		logCtx = logCtx.Str("trace_id", traceID)
	}
	if scopeID := GetScopeID(ctx); scopeID != "" {
		logCtx = logCtx.Str("scope_id", scopeID)
	}
	return logCtx.Logger()
}
