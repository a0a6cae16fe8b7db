package common

import (
	"context"
	"time"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyCaller    contextKey = "caller"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithCaller tags the context with the acting component ("api", "worker",
// "sweeper"). Transition log records include it.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// CallerFromContext extracts the acting component from context.
func CallerFromContext(ctx context.Context) string {
	if caller, ok := ctx.Value(ContextKeyCaller).(string); ok {
		return caller
	}
	return "unknown"
}

// WithTimeout creates a context with the specified timeout
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
