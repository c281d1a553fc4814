// Package trace carries the call ID that correlates every attempt of one
// logical call, both in logs and in the X-Request-ID header.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const (
	// callIDKey is the context key for call ID values
	callIDKey contextKey = "call_id"
	// HeaderXRequestID is the header carrying the call ID on every attempt
	HeaderXRequestID = "X-Request-ID"
)

// WithCallID adds a call ID to the context
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// CallIDFromContext returns a call ID from context if present
func CallIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if id, ok := ctx.Value(callIDKey).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// NewCallID generates a random call ID
func NewCallID() string {
	return uuid.NewString()
}

// EnsureCallID returns ctx unchanged when it already carries a call ID, or a
// derived context holding a freshly generated one. The ID is returned too.
func EnsureCallID(ctx context.Context) (context.Context, string) {
	if id, ok := CallIDFromContext(ctx); ok {
		return ctx, id
	}
	id := NewCallID()
	return WithCallID(ctx, id), id
}
